package ledger

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
)

// Pagination defaults.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Sortable history fields and the columns they map to.
var historySortColumns = map[string]string{
	"movementDate":   "movement_date",
	"movementType":   "movement_type",
	"quantityChange": "quantity_change",
}

// HistoryFilter narrows the movement log.
type HistoryFilter struct {
	// Item is required for non-privileged callers.
	Item         entity.ItemRef
	MovementType *entity.MovementType
	DateFrom     *time.Time
	DateTo       *time.Time
}

// HistorySort names an allow-listed field. Unknown fields fall back to
// movementDate descending.
type HistorySort struct {
	Field      string
	Descending bool
}

// PageRequest is 1-based. Zero values select the defaults.
type PageRequest struct {
	Page  int
	Limit int
}

// HistoryQuery combines filter, sort and page.
type HistoryQuery struct {
	Filter HistoryFilter
	Sort   HistorySort
	Page   PageRequest
}

// HistoryPage is one page of movements plus the total match count.
type HistoryPage struct {
	Data  []entity.StockMovement `json:"data"`
	Total int                    `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

// GetHistory returns movements matching the query, scoped to the caller's
// tenant unless the caller is privileged.
func (e *Engine) GetHistory(ctx context.Context, scope tenant.Scope, q HistoryQuery) (HistoryPage, error) {
	page, limit, err := normalizePage(q.Page)
	if err != nil {
		return HistoryPage{}, err
	}

	mq := MovementQuery{
		MovementType: q.Filter.MovementType,
		DateFrom:     q.Filter.DateFrom,
		DateTo:       q.Filter.DateTo,
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}

	hasItem := id.IsSet(q.Filter.Item.ProductID) || id.IsSet(q.Filter.Item.VariantID)
	switch {
	case hasItem:
		if err := q.Filter.Item.Validate(); err != nil {
			return HistoryPage{}, err
		}
		itemID := q.Filter.Item.ID()
		mq.ItemKind = q.Filter.Item.Kind()
		mq.ItemID = &itemID
	case !scope.Privileged:
		return HistoryPage{}, apperror.NewInvalidInput("product_id or variant_id is required")
	}

	if mq.MovementType != nil && !mq.MovementType.Valid() {
		return HistoryPage{}, apperror.NewInvalidInput(fmt.Sprintf("unknown movement type %q", *mq.MovementType))
	}
	if mq.DateFrom != nil && mq.DateTo != nil && mq.DateFrom.After(*mq.DateTo) {
		return HistoryPage{}, apperror.NewInvalidInput("date_from must not be after date_to")
	}

	mq.TenantID, err = scope.ReadTenant()
	if err != nil {
		return HistoryPage{}, err
	}

	mq.OrderBy, mq.Descending = resolveSort(q.Sort)

	// Count and page read one snapshot so total always agrees with data.
	var movements []entity.StockMovement
	var total int
	err = e.txm.Within(ctx, nil, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		movements, total, err = e.repo.ListMovements(ctx, uow, mq)
		if err != nil {
			return fmt.Errorf("list movements: %w", err)
		}
		return nil
	})
	if err != nil {
		return HistoryPage{}, wrapPersistence(err)
	}
	if movements == nil {
		movements = []entity.StockMovement{}
	}

	return HistoryPage{Data: movements, Total: total, Page: page, Limit: limit}, nil
}

func normalizePage(p PageRequest) (page, limit int, err error) {
	if p.Page < 0 || p.Limit < 0 {
		return 0, 0, apperror.NewInvalidInput("page and limit must be positive")
	}
	page, limit = p.Page, p.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit, nil
}

func resolveSort(s HistorySort) (column string, descending bool) {
	column, ok := historySortColumns[s.Field]
	if !ok {
		return "movement_date", true
	}
	return column, s.Descending
}
