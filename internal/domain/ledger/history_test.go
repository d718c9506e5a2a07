package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tx"
)

func seedHistory(t *testing.T, f *fixture) entity.ItemRef {
	t.Helper()
	ref := f.product(tenantA)
	record(t, f, ref, 20, entity.MovementInitial)
	record(t, f, ref, -2, entity.MovementSale)
	record(t, f, ref, 5, entity.MovementDelivery)
	record(t, f, ref, -1, entity.MovementSale)
	record(t, f, ref, 1, entity.MovementReturn)
	return ref
}

func TestGetHistory_DefaultsToNewestFirst(t *testing.T) {
	f := newFixture(t)
	ref := seedHistory(t, f)

	page, err := f.engine.GetHistory(context.Background(), scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageLimit, page.Limit)
	require.Len(t, page.Data, 5)
	assert.Equal(t, entity.MovementReturn, page.Data[0].MovementType)
	assert.Equal(t, entity.MovementInitial, page.Data[4].MovementType)
}

func TestGetHistory_Filters(t *testing.T) {
	f := newFixture(t)
	ref := seedHistory(t, f)
	sale := entity.MovementSale
	ctx := context.Background()

	page, err := f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref, MovementType: &sale},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, m := range page.Data {
		assert.Equal(t, entity.MovementSale, m.MovementType)
	}

	all := f.movements()
	from, to := all[1].MovementDate, all[3].MovementDate
	page, err = f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref, DateFrom: &from, DateTo: &to},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	other := f.product(tenantA)
	page, err = f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: other},
	})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Data)
}

func TestGetHistory_SortAndPaging(t *testing.T) {
	f := newFixture(t)
	ref := seedHistory(t, f)
	ctx := context.Background()

	page, err := f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
		Sort:   HistorySort{Field: "quantityChange"},
		Page:   PageRequest{Page: 1, Limit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, -2, page.Data[0].QuantityChange)
	assert.Equal(t, -1, page.Data[1].QuantityChange)

	page, err = f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
		Sort:   HistorySort{Field: "quantityChange"},
		Page:   PageRequest{Page: 3, Limit: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 20, page.Data[0].QuantityChange)

	// Unknown fields fall back to movement date, newest first.
	page, err = f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
		Sort:   HistorySort{Field: "client_id; DROP TABLE stock_movements"},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MovementReturn, page.Data[0].MovementType)

	page, err = f.engine.GetHistory(ctx, scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
		Page:   PageRequest{Limit: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, page.Limit)
}

func TestGetHistory_Validation(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name  string
		query HistoryQuery
		code  string
	}{
		{"item required", HistoryQuery{}, apperror.CodeInvalidInput},
		{"negative page", HistoryQuery{Filter: HistoryFilter{Item: ref}, Page: PageRequest{Page: -1}}, apperror.CodeInvalidInput},
		{"negative limit", HistoryQuery{Filter: HistoryFilter{Item: ref}, Page: PageRequest{Limit: -5}}, apperror.CodeInvalidInput},
		{"inverted range", HistoryQuery{Filter: HistoryFilter{Item: ref, DateFrom: &now, DateTo: &earlier}}, apperror.CodeInvalidInput},
		{"both ids", HistoryQuery{Filter: HistoryFilter{Item: entity.ItemRef{ProductID: id.Ptr(id.New()), VariantID: id.Ptr(id.New())}}}, apperror.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.GetHistory(context.Background(), scopeOf(tenantA), tt.query)
			assert.True(t, apperror.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestGetHistory_TenantScoping(t *testing.T) {
	f := newFixture(t)
	ref := seedHistory(t, f)
	ctx := context.Background()

	page, err := f.engine.GetHistory(ctx, scopeOf(tenantB), HistoryQuery{Filter: HistoryFilter{Item: ref}})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	page, err = f.engine.GetHistory(ctx, superadmin(nil), HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	page, err = f.engine.GetHistory(ctx, superadmin(id.Ptr(tenantB)), HistoryQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestGetHistory_CountAndPageShareTransaction(t *testing.T) {
	f := newFixture(t)
	ref := seedHistory(t, f)

	page, err := f.engine.GetHistory(context.Background(), scopeOf(tenantA), HistoryQuery{
		Filter: HistoryFilter{Item: ref},
		Page:   PageRequest{Page: 2, Limit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Data, 2)

	require.NotNil(t, f.store.listUoW)
	assert.Equal(t, tx.Serializable, f.store.listUoW.IsolationLevel())
}
