package auth

import "context"

// Identity is the authenticated subject attached to a request context.
type Identity struct {
	UserID      int64
	Roles       []int64
	Permissions []string
}

type ctxKey struct{}

// ContextWithIdentity stores the subject in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext extracts the authenticated subject, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID <= 0 {
		return Identity{}, false
	}
	return id, true
}
