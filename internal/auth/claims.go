// Package auth implements JWT-based request authentication plus a
// workspace-scoped API token side channel, grounded on the teacher's
// internal/auth package: a claims helper file (claims.go), a debug/local
// bypass ahead of the real check (local_dev.go / DebugAuthInterceptor),
// and context-carried identity rather than ambient globals.
package auth

import "context"

// Claims is the identity carried by a verified access token or API token.
type Claims struct {
	UserID      string
	WorkspaceID string
	TokenID     string // jti, empty for API-token-authenticated requests
}

type ctxKey int

const claimsKey ctxKey = iota

// WithClaims attaches Claims to ctx.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom retrieves Claims previously attached by middleware.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey).(Claims)
	return c, ok
}
