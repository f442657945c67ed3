package auth

import "context"

// Principal is the identity a request acts as. The zero value is anonymous.
type Principal struct {
	UserID   string
	Username string
}

// Anonymous is the unauthenticated principal.
var Anonymous = Principal{}

// IsAuthenticated reports whether p is a concrete user.
func (p Principal) IsAuthenticated() bool {
	return p.UserID != ""
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored in ctx, or Anonymous.
func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return PrincipalFrom(ctx).IsAuthenticated()
}
