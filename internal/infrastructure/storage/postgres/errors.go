package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"storefront/internal/core/apperror"
)

// SQLSTATE codes the ledger reacts to.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// TranslateError maps driver errors onto AppErrors.
// Serialization failures and deadlocks become retryable SERIALIZATION_FAILURE,
// lock and statement timeouts become TIMEOUT_ERROR. Anything else, including
// errors that already are AppErrors, is returned unchanged.
func TranslateError(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return apperror.NewSerializationFailure(err)
		case sqlStateLockNotAvailable, sqlStateQueryCanceled:
			return apperror.NewTimeout(err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewTimeout(err)
	}
	return err
}
