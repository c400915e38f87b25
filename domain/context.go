package domain

import "context"

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying the authenticated caller.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the authenticated caller from context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	val := ctx.Value(identityContextKey{})
	if id, ok := val.(*Identity); ok && id != nil {
		return id, true
	}
	return nil, false
}
