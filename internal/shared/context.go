package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity carries the pre-resolved tenant and actor for a request. The
// access-control layer in front of this service owns authentication; by the
// time a call reaches the engine both values are trusted.
type Identity struct {
	TenantID uuid.UUID
	ActorID  int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
