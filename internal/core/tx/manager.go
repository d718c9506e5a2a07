// Package tx provides transaction management abstractions.
// This package defines interfaces that decouple domain logic from specific
// database implementations, following the Dependency Inversion Principle.
package tx

import (
	"context"
)

// Serializable is the isolation level name every ledger write runs under.
const Serializable = "serializable"

// UnitOfWork is an open transaction handle.
//
// A function either receives a UnitOfWork, in which case it must not commit
// or roll it back, or obtains one from Manager.Within and lets the manager
// finish it. Never both.
type UnitOfWork interface {
	// IsolationLevel reports the isolation the transaction was opened with.
	IsolationLevel() string
}

// Manager defines the contract for transaction management.
//
// Domain services depend on this interface, not concrete implementations.
// The actual implementation lives in infrastructure/storage/postgres.
type Manager interface {
	// Within runs fn inside uow when uow is non-nil and leaves commit and
	// rollback to whoever opened it. With a nil uow it begins a serializable
	// transaction, commits it when fn succeeds and rolls it back otherwise.
	// Rollback completes before the error is returned.
	Within(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context, uow UnitOfWork) error) error
}
