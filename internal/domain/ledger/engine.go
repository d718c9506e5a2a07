package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
	"storefront/pkg/logger"
)

var tracer = otel.Tracer("storefront/ledger")

// MaxQuantity bounds quantity changes and stock levels. Both are stored in
// INTEGER columns.
const MaxQuantity = math.MaxInt32

// Engine records stock movements and keeps stock levels consistent with them.
//
// Every write locks the level row of its item inside a serializable
// transaction, so writers to the same item are serialized by the database and
// writers to different items run in parallel. Nothing is cached in process.
type Engine struct {
	txm    tx.Manager
	repo   Repository
	items  ItemOracle
	events EventPublisher
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventPublisher makes the engine emit a MovementRecorded event per write.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides the clock used for movement dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a ledger engine.
func NewEngine(txm tx.Manager, repo Repository, items ItemOracle, opts ...Option) *Engine {
	e := &Engine{
		txm:   txm,
		repo:  repo,
		items: items,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordInput describes one quantity change.
type RecordInput struct {
	Item               entity.ItemRef
	QuantityChange     int
	MovementType       entity.MovementType
	Reason             *string
	SourceDocumentID   *string
	SourceDocumentType *string

	// ActorID overrides the scope's actor.
	ActorID *id.ID

	// TenantID is required for privileged callers and ignored otherwise.
	TenantID *id.ID
}

func (in RecordInput) validate() error {
	if err := in.Item.Validate(); err != nil {
		return err
	}
	if err := validateQuantityChange(in.QuantityChange); err != nil {
		return err
	}
	if !in.MovementType.Valid() {
		return apperror.NewInvalidInput(fmt.Sprintf("unknown movement type %q", in.MovementType))
	}
	return nil
}

func validateQuantityChange(delta int) error {
	if delta == 0 {
		return apperror.NewInvalidInput("quantity_change must not be zero")
	}
	if delta > MaxQuantity || delta < -MaxQuantity {
		return apperror.NewInvalidInput(fmt.Sprintf("quantity_change must be within ±%d", MaxQuantity)).
			WithDetail("quantity_change", delta)
	}
	return nil
}

// RecordMovement applies a quantity change to an item and appends the
// matching movement, atomically.
//
// When uow is nil the engine opens and owns a serializable transaction. When
// uow is given the write joins it, and commit or rollback stays with the
// caller; the handle must be serializable.
func (e *Engine) RecordMovement(ctx context.Context, scope tenant.Scope, in RecordInput, uow tx.UnitOfWork) (entity.StockMovement, error) {
	ctx, span := tracer.Start(ctx, "ledger.RecordMovement",
		trace.WithAttributes(
			attribute.String("movement.type", string(in.MovementType)),
			attribute.Int("movement.quantity_change", in.QuantityChange),
		))
	defer span.End()

	if err := in.validate(); err != nil {
		return entity.StockMovement{}, err
	}

	tenantID, mismatch, err := scope.WriteTenant(in.TenantID)
	if err != nil {
		return entity.StockMovement{}, err
	}
	if mismatch {
		logger.Warn(ctx, "explicit tenant ignored for non-privileged caller",
			"ambient_tenant_id", tenantID,
			"explicit_tenant_id", *in.TenantID,
		)
	}

	if uow != nil && uow.IsolationLevel() != tx.Serializable {
		return entity.StockMovement{}, apperror.NewInternal(
			fmt.Errorf("stock ledger requires a %s transaction, got %s", tx.Serializable, uow.IsolationLevel()),
		)
	}

	actorID := in.ActorID
	if actorID == nil {
		actorID = scope.ActorID
	}

	var recorded entity.StockMovement
	var quantityAfter int
	err = e.txm.Within(ctx, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		m, after, err := e.apply(ctx, uow, tenantID, actorID, in)
		if err != nil {
			return err
		}
		recorded, quantityAfter = m, after
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return entity.StockMovement{}, wrapPersistence(err)
	}

	logger.Info(ctx, "recorded stock movement",
		"movement_id", recorded.ID,
		"item", in.Item.String(),
		"tenant_id", tenantID,
		"movement_type", in.MovementType,
		"quantity_change", in.QuantityChange,
		"quantity_after", quantityAfter,
	)

	return recorded, nil
}

// apply runs the write steps inside uow. It returns the movement and the
// resulting level quantity.
func (e *Engine) apply(ctx context.Context, uow tx.UnitOfWork, tenantID id.ID, actorID *id.ID, in RecordInput) (entity.StockMovement, int, error) {
	exists, err := e.items.Exists(ctx, uow, in.Item, tenantID)
	if err != nil {
		return entity.StockMovement{}, 0, fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return entity.StockMovement{}, 0, apperror.NewItemNotFound(string(in.Item.Kind()), in.Item.ID().String())
	}

	level, err := e.lockLevel(ctx, uow, in.Item, tenantID)
	if err != nil {
		return entity.StockMovement{}, 0, err
	}

	if in.QuantityChange > MaxQuantity-level.Quantity {
		return entity.StockMovement{}, 0, apperror.NewInvalidInput(
			fmt.Sprintf("stock level would exceed %d", MaxQuantity),
		).WithDetail("current_quantity", level.Quantity).WithDetail("requested_change", in.QuantityChange)
	}

	newQuantity := level.Quantity + in.QuantityChange
	if newQuantity < 0 {
		logger.Info(ctx, "rejected movement on insufficient stock",
			"item", in.Item.String(),
			"current_quantity", level.Quantity,
			"quantity_change", in.QuantityChange,
		)
		return entity.StockMovement{}, 0, apperror.NewInsufficientStock(
			string(in.Item.Kind()), in.Item.ID().String(), level.Quantity, in.QuantityChange,
		)
	}

	now := e.now().UTC()
	if err := e.repo.UpdateLevelQuantity(ctx, uow, level.ID, newQuantity, now); err != nil {
		return entity.StockMovement{}, 0, fmt.Errorf("update stock level: %w", err)
	}

	movement := entity.StockMovement{
		ID:                 id.New(),
		ProductID:          in.Item.ProductID,
		VariantID:          in.Item.VariantID,
		QuantityChange:     in.QuantityChange,
		MovementType:       in.MovementType,
		Reason:             in.Reason,
		SourceDocumentID:   in.SourceDocumentID,
		SourceDocumentType: in.SourceDocumentType,
		UserID:             actorID,
		ClientID:           tenantID,
		MovementDate:       now,
	}
	if err := e.repo.InsertMovement(ctx, uow, movement); err != nil {
		return entity.StockMovement{}, 0, fmt.Errorf("insert stock movement: %w", err)
	}

	if e.events != nil {
		event := MovementRecorded{Movement: movement, QuantityAfter: newQuantity}
		if err := e.events.PublishMovement(ctx, uow, event); err != nil {
			return entity.StockMovement{}, 0, fmt.Errorf("publish movement event: %w", err)
		}
	}

	return movement, newQuantity, nil
}

// lockLevel returns the level row for ref with the row lock held, creating
// an empty row first when needed. The row is re-read after the insert so the
// lock is taken the same way in both paths.
func (e *Engine) lockLevel(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (entity.StockLevel, error) {
	level, err := e.repo.GetLevelForUpdate(ctx, uow, ref, tenantID)
	if err != nil {
		return entity.StockLevel{}, fmt.Errorf("lock stock level: %w", err)
	}
	if level != nil {
		return *level, nil
	}

	if err := e.repo.InsertLevelIfAbsent(ctx, uow, entity.NewStockLevel(ref, tenantID)); err != nil {
		return entity.StockLevel{}, fmt.Errorf("create stock level: %w", err)
	}

	level, err = e.repo.GetLevelForUpdate(ctx, uow, ref, tenantID)
	if err != nil {
		return entity.StockLevel{}, fmt.Errorf("lock created stock level: %w", err)
	}
	if level == nil {
		return entity.StockLevel{}, fmt.Errorf("stock level for %s missing after insert", ref)
	}
	return *level, nil
}

// wrapPersistence leaves AppErrors untouched (business errors and retryable
// serialization failures) and wraps anything else as internal.
func wrapPersistence(err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewTimeout(err)
	}
	return apperror.NewInternal(err)
}
