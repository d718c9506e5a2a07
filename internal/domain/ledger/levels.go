package ledger

import (
	"context"
	"fmt"

	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
)

// GetCurrentStock returns the on-hand quantity of an item.
// An item without a level row has quantity 0.
func (e *Engine) GetCurrentStock(ctx context.Context, scope tenant.Scope, ref entity.ItemRef) (int, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}

	quantities, err := e.GetCurrentStockBatch(ctx, scope, ref.Kind(), []id.ID{ref.ID()})
	if err != nil {
		return 0, err
	}
	return quantities[ref.ID()], nil
}

// GetCurrentStockBatch returns the quantity of every requested item.
// Every id appears in the result, defaulting to 0.
func (e *Engine) GetCurrentStockBatch(ctx context.Context, scope tenant.Scope, kind entity.ItemKind, itemIDs []id.ID) (map[id.ID]int, error) {
	if _, err := entity.ParseItemKind(string(kind)); err != nil {
		return nil, err
	}

	tenantFilter, err := scope.ReadTenant()
	if err != nil {
		return nil, err
	}

	result := make(map[id.ID]int, len(itemIDs))
	unique := make([]id.ID, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		if _, seen := result[itemID]; seen {
			continue
		}
		result[itemID] = 0
		unique = append(unique, itemID)
	}
	if len(unique) == 0 {
		return result, nil
	}

	stored, err := e.repo.GetQuantities(ctx, nil, kind, unique, tenantFilter)
	if err != nil {
		return nil, wrapPersistence(fmt.Errorf("get stock levels: %w", err))
	}
	for itemID, quantity := range stored {
		if _, requested := result[itemID]; requested {
			result[itemID] = quantity
		}
	}

	return result, nil
}
