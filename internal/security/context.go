package security

import "context"

type userContextKey struct{}

// WithUser attaches the resolved caller identity to ctx. uc may be nil for
// an unauthenticated session; tool handlers distinguish that case via
// RequireAuthenticated.
func WithUser(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserFromContext returns the UserContext attached by WithUser, or nil if
// the caller never authenticated.
func UserFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey{}).(*UserContext)
	return uc
}
