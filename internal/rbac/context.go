package rbac

import (
	"context"
	"time"
)

// Identity is what the identity provider vouches for.
type Identity struct {
	AccountID int64
	TokenID   string
	ExpiresAt time.Time
}

// Caller is the authenticated account of a request.
type Caller struct {
	Account  Account
	Identity Identity
}

type callerContextKey struct{}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}
