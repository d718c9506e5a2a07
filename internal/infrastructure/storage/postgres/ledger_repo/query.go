package ledger_repo

import (
	"github.com/Masterminds/squirrel"

	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
)

// sortableColumns are the only columns history may be ordered by.
var sortableColumns = map[string]bool{
	"movement_date":   true,
	"movement_type":   true,
	"quantity_change": true,
}

// movementFilter builds the history predicate, without the tenant part.
// It returns nil when nothing is filtered.
func movementFilter(q ledger.MovementQuery) squirrel.Sqlizer {
	where := squirrel.And{}
	if q.ItemID != nil {
		where = append(where, squirrel.Eq{q.ItemKind.Column(): *q.ItemID})
	}
	if q.MovementType != nil {
		where = append(where, squirrel.Eq{"movement_type": *q.MovementType})
	}
	if q.DateFrom != nil {
		where = append(where, squirrel.GtOrEq{"movement_date": *q.DateFrom})
	}
	if q.DateTo != nil {
		where = append(where, squirrel.LtOrEq{"movement_date": *q.DateTo})
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

// orderClause renders ORDER BY with id as tie-break.
func orderClause(column string, descending bool) []string {
	if !sortableColumns[column] {
		column, descending = "movement_date", true
	}
	dir := " ASC"
	if descending {
		dir = " DESC"
	}
	return []string{column + dir, "id" + dir}
}

func driftQuery(limit int) squirrel.SelectBuilder {
	sums := postgres.Builder().
		Select("COALESCE(SUM(m.quantity_change), 0) AS total").
		From(tableStockMovements + " m").
		Where("m.client_id = l.client_id").
		Where("(m.product_id = l.product_id OR m.variant_id = l.variant_id)")

	return postgres.Builder().
		Select("l.product_id", "l.variant_id", "l.client_id", "l.quantity", "s.total AS movement_sum").
		From(tableStockLevels+" l").
		JoinClause(sums.Prefix("CROSS JOIN LATERAL (").Suffix(") s")).
		Where("l.quantity <> s.total").
		OrderBy("l.client_id", "l.id").
		Limit(uint64(limit))
}
