package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/core/tx"
	"storefront/pkg/logger"
)

var tracer = otel.Tracer("storefront/tx")

// Compile-time check that TxManager implements tx.Manager interface.
var _ tx.Manager = (*TxManager)(nil)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries and lock waits (default 30s)
	StatementTimeout time.Duration
}

// DefaultTxOptions returns the options every ledger transaction uses.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.Serializable,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// TxManager manages database transactions with support for:
// - Borrowed units of work (caller keeps commit/rollback)
// - Statement timeout protection
// - Context cancellation handling
// - Distributed tracing integration
type TxManager struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool, opts TxOptions) *TxManager {
	return &TxManager{pool: pool.Pool, opts: opts}
}

// Tx wraps pgx.Tx with the isolation it was opened with.
// It is the PostgreSQL implementation of tx.UnitOfWork.
type Tx struct {
	pgx.Tx
	isolation pgx.TxIsoLevel
}

// IsolationLevel implements tx.UnitOfWork.
func (t *Tx) IsolationLevel() string {
	return string(t.isolation)
}

// WrapTx exposes a transaction opened elsewhere as a unit of work.
// The owner of pgxTx keeps responsibility for commit and rollback.
func WrapTx(pgxTx pgx.Tx, isolation pgx.TxIsoLevel) *Tx {
	return &Tx{Tx: pgxTx, isolation: isolation}
}

// Begin opens a transaction the caller owns and must finish.
func (m *TxManager) Begin(ctx context.Context) (*Tx, error) {
	pgxTx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   m.opts.IsolationLevel,
		AccessMode: m.opts.AccessMode,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", TranslateError(err))
	}

	// Set statement timeout for protection against runaway queries
	if m.opts.StatementTimeout > 0 {
		_, err = pgxTx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", m.opts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = pgxTx.Rollback(context.Background())
			return nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	return WrapTx(pgxTx, m.opts.IsolationLevel), nil
}

// Within implements tx.Manager.
func (m *TxManager) Within(ctx context.Context, uow tx.UnitOfWork, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	if uow != nil {
		return TranslateError(fn(ctx, uow))
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(m.opts.IsolationLevel)),
		))
	defer span.End()

	t, err := m.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := m.executeWithRollbackProtection(ctx, t, fn); err != nil {
		span.RecordError(err)
		return TranslateError(err)
	}

	if err := t.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction: %w", TranslateError(err))
	}

	return nil
}

// executeWithRollbackProtection runs fn and handles rollback on error.
// Context cancellation is handled by pgx internally - no goroutine needed.
func (m *TxManager) executeWithRollbackProtection(ctx context.Context, t *Tx, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	err := fn(ctx, t)
	if err != nil {
		// Use background context for rollback to ensure it completes
		// even if the original context was cancelled
		if rbErr := t.Rollback(context.Background()); rbErr != nil {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}
	return nil
}

// Querier is the query surface shared by pgx.Tx and pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier returns the transaction behind uow, or the pool when uow is nil.
// A foreign UnitOfWork implementation falls back to the pool as well.
func (m *TxManager) Querier(uow tx.UnitOfWork) Querier {
	if t, ok := uow.(*Tx); ok && t != nil {
		return t.Tx
	}
	return m.pool
}

// Pool returns the underlying pool.
func (m *TxManager) Pool() *pgxpool.Pool {
	return m.pool
}
