package postgres

import (
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/core/entity"
	"storefront/internal/core/id"
)

func TestScoped_SelectAppliesTenant(t *testing.T) {
	levels := NewScoped[entity.StockLevel]("stock_levels")
	tenantID := id.New()

	sql, args, err := levels.Select(&tenantID).Where(squirrel.Eq{"product_id": "p"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, product_id, variant_id, quantity, client_id, updated_at FROM stock_levels WHERE client_id = $1 AND product_id = $2",
		sql)
	// uuid.UUID is a driver.Valuer, so Eq binds its string form.
	assert.Equal(t, []any{tenantID.String(), "p"}, args)
}

func TestScoped_UnscopedSelect(t *testing.T) {
	levels := NewScoped[entity.StockLevel]("stock_levels")

	sql, args, err := levels.Select(nil, "SUM(quantity)").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(quantity) FROM stock_levels", sql)
	assert.Empty(t, args)
}

func TestScoped_UpdateAppliesTenant(t *testing.T) {
	levels := NewScoped[entity.StockLevel]("stock_levels")
	tenantID := id.New()

	sql, args, err := levels.Update(&tenantID).Set("quantity", 3).Where(squirrel.Eq{"id": "l1"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE stock_levels SET quantity = $1 WHERE client_id = $2 AND id = $3", sql)
	assert.Equal(t, []any{3, tenantID.String(), "l1"}, args)
}

func TestScoped_InsertUsesAllColumns(t *testing.T) {
	levels := NewScoped[entity.StockLevel]("stock_levels")
	level := entity.NewStockLevel(entity.ProductRef(id.New()), id.New())

	sql, args, err := levels.Insert(level).Suffix("ON CONFLICT DO NOTHING").ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO stock_levels (id,product_id,variant_id,quantity,client_id,updated_at) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING",
		sql)
	require.Len(t, args, 6)
	assert.Equal(t, level.ID, args[0])
	assert.Equal(t, level.ClientID, args[4])
}

func TestScoped_InsertMovementValues(t *testing.T) {
	movements := NewScoped[entity.StockMovement]("stock_movements")
	now := time.Now().UTC()
	reason := "inventory count"
	variantID := id.New()
	m := entity.StockMovement{
		ID:             id.New(),
		VariantID:      &variantID,
		QuantityChange: -3,
		MovementType:   entity.MovementAdjustmentOut,
		Reason:         &reason,
		ClientID:       id.New(),
		MovementDate:   now,
	}

	assert.Equal(t, []string{
		"id", "product_id", "variant_id", "quantity_change", "movement_type", "reason",
		"source_document_id", "source_document_type", "user_id", "client_id", "movement_date",
	}, movements.Columns())

	_, args, err := movements.Insert(m).ToSql()
	require.NoError(t, err)
	require.Len(t, args, 11)
	assert.Equal(t, m.ID, args[0])
	assert.Nil(t, args[1])
	assert.Equal(t, &variantID, args[2])
	assert.Equal(t, -3, args[3])
	assert.Equal(t, entity.MovementAdjustmentOut, args[4])
	assert.Equal(t, &reason, args[5])
	assert.Equal(t, now, args[10])
}

func TestScoped_SkipsUntaggedFields(t *testing.T) {
	type row struct {
		ID    id.ID  `db:"id"`
		Note  string `db:"note"`
		Cache string `db:"-"`
		Plain string
	}
	rows := NewScoped[row]("notes")

	assert.Equal(t, []string{"id", "note"}, rows.Columns())
}
