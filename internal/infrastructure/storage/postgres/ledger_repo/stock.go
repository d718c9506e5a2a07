// Package ledger_repo provides the PostgreSQL implementation of the stock ledger ports.
package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tx"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
)

const (
	tableStockLevels    = "stock_levels"
	tableStockMovements = "stock_movements"
)

// Compile-time check.
var _ ledger.Repository = (*StockRepo)(nil)

// StockRepo persists stock levels and the movement log.
type StockRepo struct {
	txm       *postgres.TxManager
	levels    *postgres.Scoped[entity.StockLevel]
	movements *postgres.Scoped[entity.StockMovement]
}

// NewStockRepo creates a new stock repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:       txm,
		levels:    postgres.NewScoped[entity.StockLevel](tableStockLevels),
		movements: postgres.NewScoped[entity.StockMovement](tableStockMovements),
	}
}

// GetLevelForUpdate locks the level row of ref until uow ends.
func (r *StockRepo) GetLevelForUpdate(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (*entity.StockLevel, error) {
	return r.levels.Get(ctx, r.txm.Querier(uow), r.lockLevelQuery(ref, tenantID))
}

func (r *StockRepo) lockLevelQuery(ref entity.ItemRef, tenantID id.ID) squirrel.SelectBuilder {
	return r.levels.Select(&tenantID).
		Where(squirrel.Eq{ref.Kind().Column(): ref.ID()}).
		Suffix("FOR UPDATE")
}

// InsertLevelIfAbsent relies on the partial unique indexes on
// (product_id, client_id) and (variant_id, client_id).
func (r *StockRepo) InsertLevelIfAbsent(ctx context.Context, uow tx.UnitOfWork, level entity.StockLevel) error {
	_, err := r.levels.Exec(ctx, r.txm.Querier(uow), r.levels.Insert(level).Suffix("ON CONFLICT DO NOTHING"))
	return err
}

// UpdateLevelQuantity sets the quantity of a locked level row.
func (r *StockRepo) UpdateLevelQuantity(ctx context.Context, uow tx.UnitOfWork, levelID id.ID, quantity int, updatedAt time.Time) error {
	q := r.levels.Update(nil).
		Set("quantity", quantity).
		Set("updated_at", updatedAt).
		Where(squirrel.Eq{"id": levelID})

	n, err := r.levels.Exec(ctx, r.txm.Querier(uow), q)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stock level %s vanished while locked", levelID)
	}
	return nil
}

type itemQuantity struct {
	ItemID   id.ID `db:"item_id"`
	Quantity int   `db:"quantity"`
}

// GetQuantities sums level quantities per item. Without a tenant filter the
// sum spans every tenant.
func (r *StockRepo) GetQuantities(ctx context.Context, uow tx.UnitOfWork, kind entity.ItemKind, itemIDs []id.ID, tenantID *id.ID) (map[id.ID]int, error) {
	sql, args, err := r.quantitiesQuery(kind, itemIDs, tenantID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build quantities query: %w", err)
	}

	var rows []itemQuantity
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select quantities: %w", err)
	}

	out := make(map[id.ID]int, len(rows))
	for _, row := range rows {
		out[row.ItemID] = row.Quantity
	}
	return out, nil
}

func (r *StockRepo) quantitiesQuery(kind entity.ItemKind, itemIDs []id.ID, tenantID *id.ID) squirrel.SelectBuilder {
	col := kind.Column()
	return r.levels.Select(tenantID, col+" AS item_id", "COALESCE(SUM(quantity), 0) AS quantity").
		Where(squirrel.Eq{col: itemIDs}).
		GroupBy(col)
}

// InsertMovement appends a movement row.
func (r *StockRepo) InsertMovement(ctx context.Context, uow tx.UnitOfWork, movement entity.StockMovement) error {
	_, err := r.movements.Exec(ctx, r.txm.Querier(uow), r.movements.Insert(movement))
	return err
}

// GetMovement loads one movement within the tenant filter.
func (r *StockRepo) GetMovement(ctx context.Context, uow tx.UnitOfWork, movementID id.ID, tenantID *id.ID) (entity.StockMovement, error) {
	q := r.movements.Select(tenantID).Where(squirrel.Eq{"id": movementID})

	m, err := r.movements.Get(ctx, r.txm.Querier(uow), q)
	if err != nil {
		return entity.StockMovement{}, err
	}
	if m == nil {
		return entity.StockMovement{}, apperror.NewMovementNotFound(movementID.String())
	}
	return *m, nil
}

// ListMovements returns one page of the movement log and the total count.
// Pass the same uow for both reads to keep them on one snapshot.
func (r *StockRepo) ListMovements(ctx context.Context, uow tx.UnitOfWork, q ledger.MovementQuery) ([]entity.StockMovement, int, error) {
	db := r.txm.Querier(uow)
	where := movementFilter(q)

	total, err := r.movements.Count(ctx, db, q.TenantID, where)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []entity.StockMovement{}, 0, nil
	}

	page, err := r.movements.List(ctx, db, r.pageQuery(q, where))
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

func (r *StockRepo) pageQuery(q ledger.MovementQuery, where squirrel.Sqlizer) squirrel.SelectBuilder {
	sel := r.movements.Select(q.TenantID)
	if where != nil {
		sel = sel.Where(where)
	}
	return sel.
		OrderBy(orderClause(q.OrderBy, q.Descending)...).
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset))
}

// SumMovements totals the committed quantity changes of one item.
func (r *StockRepo) SumMovements(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (int, error) {
	sql, args, err := r.movements.Select(&tenantID, "COALESCE(SUM(quantity_change), 0)").
		Where(squirrel.Eq{ref.Kind().Column(): ref.ID()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build movement sum: %w", err)
	}

	var sum int
	if err := r.txm.Querier(uow).QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum movements: %w", err)
	}
	return sum, nil
}

type driftRow struct {
	ProductID   *id.ID `db:"product_id"`
	VariantID   *id.ID `db:"variant_id"`
	ClientID    id.ID  `db:"client_id"`
	Quantity    int    `db:"quantity"`
	MovementSum int    `db:"movement_sum"`
}

// ListDrift finds levels whose quantity differs from their movement sum,
// across all tenants.
func (r *StockRepo) ListDrift(ctx context.Context, uow tx.UnitOfWork, limit int) ([]ledger.BalanceReport, error) {
	sql, args, err := driftQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build drift query: %w", err)
	}

	var rows []driftRow
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select drift: %w", err)
	}

	reports := make([]ledger.BalanceReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, ledger.BalanceReport{
			Item:        entity.ItemRef{ProductID: row.ProductID, VariantID: row.VariantID},
			TenantID:    row.ClientID,
			Quantity:    row.Quantity,
			MovementSum: row.MovementSum,
			Drift:       row.Quantity - row.MovementSum,
		})
	}
	return reports, nil
}
