package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
)

func TestCorrectMovement_ReplacesEffect(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	original := record(t, f, ref, 10, entity.MovementDelivery)

	res, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), CorrectionInput{
		MovementID:     original.ID,
		QuantityChange: 8,
	})
	require.NoError(t, err)

	assert.Equal(t, original, res.Original)

	assert.Equal(t, -10, res.Reversal.QuantityChange)
	assert.Equal(t, entity.MovementDelivery, res.Reversal.MovementType)
	require.NotNil(t, res.Reversal.SourceDocumentID)
	assert.Equal(t, original.ID.String(), *res.Reversal.SourceDocumentID)
	require.NotNil(t, res.Reversal.SourceDocumentType)
	assert.Equal(t, entity.SourceCorrectionReversal, *res.Reversal.SourceDocumentType)

	assert.Equal(t, 8, res.Corrected.QuantityChange)
	assert.Equal(t, entity.MovementDelivery, res.Corrected.MovementType)
	require.NotNil(t, res.Corrected.Reason)
	assert.Equal(t, "correction of "+original.ID.String(), *res.Corrected.Reason)
	require.NotNil(t, res.Corrected.SourceDocumentType)
	assert.Equal(t, entity.SourceCorrection, *res.Corrected.SourceDocumentType)

	level, _ := f.level(ref, tenantA)
	assert.Equal(t, 8, level.Quantity)

	movements := f.movements()
	require.Len(t, movements, 3)
	assert.Equal(t, original, movements[0], "original row is never edited")
}

func TestCorrectMovement_OverridesTypeAndReason(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	original := record(t, f, ref, 10, entity.MovementDelivery)
	mt := entity.MovementAdjustmentIn
	reason := "miscounted pallet"

	res, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), CorrectionInput{
		MovementID:     original.ID,
		QuantityChange: 12,
		MovementType:   &mt,
		Reason:         &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MovementAdjustmentIn, res.Corrected.MovementType)
	assert.Equal(t, reason, *res.Corrected.Reason)
	assert.Equal(t, entity.MovementDelivery, res.Reversal.MovementType)
}

func TestCorrectMovement_NegativeReversalAbortsEverything(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	delivery := record(t, f, ref, 10, entity.MovementDelivery)
	record(t, f, ref, -5, entity.MovementSale)

	_, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), CorrectionInput{
		MovementID:     delivery.ID,
		QuantityChange: 12,
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock))

	level, _ := f.level(ref, tenantA)
	assert.Equal(t, 5, level.Quantity)
	assert.Len(t, f.movements(), 2)
}

func TestCorrectMovement_FailedCorrectedEntryRollsBackReversal(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	record(t, f, ref, 10, entity.MovementDelivery)
	sale := record(t, f, ref, -3, entity.MovementSale)

	_, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), CorrectionInput{
		MovementID:     sale.ID,
		QuantityChange: -20,
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock))

	level, _ := f.level(ref, tenantA)
	assert.Equal(t, 7, level.Quantity)
	assert.Len(t, f.movements(), 2)
	assert.Len(t, f.store.snapshot().events, 2)
}

func TestCorrectMovement_NotFound(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantA)
	original := record(t, f, ref, 10, entity.MovementDelivery)

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), CorrectionInput{
			MovementID: id.New(), QuantityChange: 1,
		})
		assert.True(t, apperror.IsCode(err, apperror.CodeMovementNotFound))
	})

	t.Run("other tenant", func(t *testing.T) {
		_, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantB), CorrectionInput{
			MovementID: original.ID, QuantityChange: 1,
		})
		assert.True(t, apperror.IsCode(err, apperror.CodeMovementNotFound))
	})
}

func TestCorrectMovement_Validation(t *testing.T) {
	f := newFixture(t)
	bad := entity.MovementType("gift")

	tests := []struct {
		name string
		in   CorrectionInput
	}{
		{"missing id", CorrectionInput{QuantityChange: 1}},
		{"zero change", CorrectionInput{MovementID: id.New()}},
		{"unknown type", CorrectionInput{MovementID: id.New(), QuantityChange: 1, MovementType: &bad}},
		{"change above int32", CorrectionInput{MovementID: id.New(), QuantityChange: MaxQuantity + 1}},
		{"max int64 change", CorrectionInput{MovementID: id.New(), QuantityChange: math.MaxInt64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CorrectMovement(context.Background(), scopeOf(tenantA), tt.in)
			assert.True(t, apperror.IsCode(err, apperror.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestCorrectMovement_PrivilegedTargetsOriginalTenant(t *testing.T) {
	f := newFixture(t)
	ref := f.product(tenantB)
	original, err := f.engine.RecordMovement(context.Background(), superadmin(nil), RecordInput{
		Item: ref, QuantityChange: 6, MovementType: entity.MovementDelivery, TenantID: id.Ptr(tenantB),
	}, nil)
	require.NoError(t, err)

	res, err := f.engine.CorrectMovement(context.Background(), superadmin(nil), CorrectionInput{
		MovementID: original.ID, QuantityChange: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, tenantB, res.Reversal.ClientID)
	assert.Equal(t, tenantB, res.Corrected.ClientID)

	level, _ := f.level(ref, tenantB)
	assert.Equal(t, 4, level.Quantity)
}
