package membership

import "context"

type claimsKey struct{}

// ContextWithClaims returns a copy of ctx carrying the caller's claims.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// IsStaff reports whether r manages the library rather than borrowing from it.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleAssistant
}

// CanActFor reports whether the caller may read the account of username.
// Staff may read any account; everyone else only their own.
func (c *Claims) CanActFor(username string) bool {
	return c.Role.IsStaff() || c.Username == username
}
