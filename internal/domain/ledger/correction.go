package ledger

import (
	"context"
	"fmt"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
	"storefront/pkg/logger"
)

// CorrectionInput replaces the effect of a recorded movement.
type CorrectionInput struct {
	MovementID     id.ID
	QuantityChange int

	// MovementType defaults to the original's type.
	MovementType *entity.MovementType

	// Reason defaults to "correction of <id>".
	Reason *string
}

// CorrectionResult holds the untouched original and the two appended rows.
type CorrectionResult struct {
	Original  entity.StockMovement `json:"original"`
	Reversal  entity.StockMovement `json:"reversal"`
	Corrected entity.StockMovement `json:"corrected"`
}

// CorrectMovement supersedes a movement without editing it: a reversal of
// the original and the corrected entry are appended in one transaction.
// If either write would drive stock negative the whole correction fails.
func (e *Engine) CorrectMovement(ctx context.Context, scope tenant.Scope, in CorrectionInput) (CorrectionResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.CorrectMovement")
	defer span.End()

	if id.IsNil(in.MovementID) {
		return CorrectionResult{}, apperror.NewInvalidInput("movement id is required")
	}
	if err := validateQuantityChange(in.QuantityChange); err != nil {
		return CorrectionResult{}, err
	}
	if in.MovementType != nil && !in.MovementType.Valid() {
		return CorrectionResult{}, apperror.NewInvalidInput(fmt.Sprintf("unknown movement type %q", *in.MovementType))
	}

	tenantFilter, err := scope.ReadTenant()
	if err != nil {
		return CorrectionResult{}, err
	}

	var result CorrectionResult
	err = e.txm.Within(ctx, nil, func(ctx context.Context, uow tx.UnitOfWork) error {
		original, err := e.repo.GetMovement(ctx, uow, in.MovementID, tenantFilter)
		if err != nil {
			return err
		}
		if !scope.CanAccess(original.ClientID) {
			return apperror.NewForbidden("movement belongs to another tenant").
				WithDetail("movement_id", original.ID.String())
		}

		originalID := original.ID.String()
		target := original.ClientID

		reversal, err := e.RecordMovement(ctx, scope, RecordInput{
			Item:               original.Item(),
			QuantityChange:     -original.QuantityChange,
			MovementType:       original.MovementType,
			Reason:             strPtr("reversal of " + originalID),
			SourceDocumentID:   strPtr(originalID),
			SourceDocumentType: strPtr(entity.SourceCorrectionReversal),
			TenantID:           &target,
		}, uow)
		if err != nil {
			return err
		}

		movementType := original.MovementType
		if in.MovementType != nil {
			movementType = *in.MovementType
		}
		reason := in.Reason
		if reason == nil {
			reason = strPtr("correction of " + originalID)
		}

		corrected, err := e.RecordMovement(ctx, scope, RecordInput{
			Item:               original.Item(),
			QuantityChange:     in.QuantityChange,
			MovementType:       movementType,
			Reason:             reason,
			SourceDocumentID:   strPtr(originalID),
			SourceDocumentType: strPtr(entity.SourceCorrection),
			TenantID:           &target,
		}, uow)
		if err != nil {
			return err
		}

		result = CorrectionResult{Original: original, Reversal: reversal, Corrected: corrected}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return CorrectionResult{}, wrapPersistence(err)
	}

	logger.Info(ctx, "corrected stock movement",
		"movement_id", in.MovementID,
		"reversal_id", result.Reversal.ID,
		"corrected_id", result.Corrected.ID,
		"original_change", result.Original.QuantityChange,
		"corrected_change", result.Corrected.QuantityChange,
	)

	return result, nil
}

func strPtr(s string) *string {
	return &s
}
