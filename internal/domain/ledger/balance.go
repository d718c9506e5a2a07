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

// DefaultDriftLimit caps a drift scan when no limit is given.
const DefaultDriftLimit = 100

// BalanceReport compares a materialized level with its movement log.
type BalanceReport struct {
	Item        entity.ItemRef `json:"item"`
	TenantID    id.ID          `json:"tenantId"`
	Quantity    int            `json:"quantity"`
	MovementSum int            `json:"movementSum"`
	Drift       int            `json:"drift"`
}

// Consistent reports whether the level matches its movements.
func (r BalanceReport) Consistent() bool {
	return r.Drift == 0
}

// VerifyBalance recomputes the movement sum of one item and compares it with
// the stored level. Both are read in one serializable transaction.
func (e *Engine) VerifyBalance(ctx context.Context, scope tenant.Scope, ref entity.ItemRef) (BalanceReport, error) {
	if err := ref.Validate(); err != nil {
		return BalanceReport{}, err
	}

	tenantID, err := scope.ReadTenant()
	if err != nil {
		return BalanceReport{}, err
	}
	if tenantID == nil {
		return BalanceReport{}, apperror.NewMissingTenant("balance verification needs a target tenant")
	}

	report := BalanceReport{Item: ref, TenantID: *tenantID}
	err = e.txm.Within(ctx, nil, func(ctx context.Context, uow tx.UnitOfWork) error {
		quantities, err := e.repo.GetQuantities(ctx, uow, ref.Kind(), []id.ID{ref.ID()}, tenantID)
		if err != nil {
			return fmt.Errorf("get stock level: %w", err)
		}
		sum, err := e.repo.SumMovements(ctx, uow, ref, *tenantID)
		if err != nil {
			return fmt.Errorf("sum movements: %w", err)
		}
		report.Quantity = quantities[ref.ID()]
		report.MovementSum = sum
		report.Drift = report.Quantity - sum
		return nil
	})
	if err != nil {
		return BalanceReport{}, wrapPersistence(err)
	}

	if !report.Consistent() {
		logger.Error(ctx, "stock level drifted from movement log",
			"item", ref.String(),
			"tenant_id", report.TenantID,
			"quantity", report.Quantity,
			"movement_sum", report.MovementSum,
		)
	}

	return report, nil
}

// FindDrift scans every tenant for levels that disagree with their movement
// log. Only privileged callers may run it.
func (e *Engine) FindDrift(ctx context.Context, scope tenant.Scope, limit int) ([]BalanceReport, error) {
	if !scope.Privileged {
		return nil, apperror.NewForbidden("drift scan requires a privileged caller")
	}
	if limit <= 0 {
		limit = DefaultDriftLimit
	}

	reports, err := e.repo.ListDrift(ctx, nil, limit)
	if err != nil {
		return nil, wrapPersistence(fmt.Errorf("list drift: %w", err))
	}

	for _, r := range reports {
		logger.Error(ctx, "stock level drifted from movement log",
			"item", r.Item.String(),
			"tenant_id", r.TenantID,
			"quantity", r.Quantity,
			"movement_sum", r.MovementSum,
		)
	}

	return reports, nil
}
