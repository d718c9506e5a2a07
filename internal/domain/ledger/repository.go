// Package ledger implements the inventory stock ledger: movements, the
// materialized stock levels derived from them, corrections and history.
package ledger

import (
	"context"
	"time"

	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tx"
)

// Repository persists stock levels and movements.
//
// Every method takes the unit of work to run in. A nil uow means "outside a
// transaction" and is only valid for reads. tenantID pointers are tenant
// filters: nil means unscoped.
type Repository interface {
	// Level operations

	// GetLevelForUpdate returns the level row for ref with an exclusive row
	// lock held until uow ends, or nil when the row does not exist.
	GetLevelForUpdate(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (*entity.StockLevel, error)

	// InsertLevelIfAbsent inserts level unless a row for the same item and
	// tenant already exists.
	InsertLevelIfAbsent(ctx context.Context, uow tx.UnitOfWork, level entity.StockLevel) error

	// UpdateLevelQuantity sets the materialized quantity of a locked level.
	UpdateLevelQuantity(ctx context.Context, uow tx.UnitOfWork, levelID id.ID, quantity int, updatedAt time.Time) error

	// GetQuantities returns the stored quantity per item id. Items without a
	// level row are absent from the map.
	GetQuantities(ctx context.Context, uow tx.UnitOfWork, kind entity.ItemKind, itemIDs []id.ID, tenantID *id.ID) (map[id.ID]int, error)

	// Movement operations (append-only)

	// InsertMovement appends a movement row.
	InsertMovement(ctx context.Context, uow tx.UnitOfWork, movement entity.StockMovement) error

	// GetMovement loads one movement; it returns a MOVEMENT_NOT_FOUND error
	// when the row is absent or outside the tenant filter.
	GetMovement(ctx context.Context, uow tx.UnitOfWork, movementID id.ID, tenantID *id.ID) (entity.StockMovement, error)

	// ListMovements returns one page of movements and the total match count.
	// Both are read through uow.
	ListMovements(ctx context.Context, uow tx.UnitOfWork, q MovementQuery) ([]entity.StockMovement, int, error)

	// Maintenance

	// SumMovements totals the quantity changes recorded for ref.
	SumMovements(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (int, error)

	// ListDrift returns levels whose quantity differs from their movement sum.
	ListDrift(ctx context.Context, uow tx.UnitOfWork, limit int) ([]BalanceReport, error)
}

// ItemOracle answers whether a catalog item exists for a tenant.
// Products and variants are owned by the catalog, not by the ledger.
type ItemOracle interface {
	Exists(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (bool, error)
}

// EventPublisher receives one event per recorded movement, inside the same
// unit of work as the ledger write.
type EventPublisher interface {
	PublishMovement(ctx context.Context, uow tx.UnitOfWork, event MovementRecorded) error
}

// MovementQuery is the repository-level form of a history query.
// Sorting is already resolved to an allow-listed column.
type MovementQuery struct {
	TenantID     *id.ID
	ItemKind     entity.ItemKind
	ItemID       *id.ID
	MovementType *entity.MovementType
	DateFrom     *time.Time
	DateTo       *time.Time
	OrderBy      string
	Descending   bool
	Limit        int
	Offset       int
}
