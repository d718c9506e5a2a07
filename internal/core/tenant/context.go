package tenant

import (
	"context"
)

type scopeKey struct{}

// WithScope stores the request scope in ctx.
// Only the HTTP layer and the logger read it back; ledger calls take the
// Scope as a parameter.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the request scope, if one was stored.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
