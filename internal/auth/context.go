package auth

import "context"

// Principal is the authenticated buyer-session identity.
type Principal struct {
	UserID     string
	BusinessID string
	DeviceID   string
}

type ctxKey string

const principalKey ctxKey = "auth_principal"

// ContextWithPrincipal attaches the session identity to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the session identity, if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
