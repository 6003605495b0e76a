// ABOUTME: Request identity context for tracking principal and correlation id through handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating trusted middleware-attached values

package auth

import (
	"context"
)

// Identity holds the values the fronting admission middleware attaches to a
// request before it reaches the core: the authenticated principal and the
// request correlation id. The core trusts these without re-deriving them.
type Identity struct {
	PrincipalID   string // stable id of the authenticated principal
	CorrelationID string // trace/correlation id attached upstream
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
