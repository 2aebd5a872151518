package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

// Verifier checks access tokens signed with a shared HMAC secret, per
// spec §6's JWT_SECRET_KEY. Issue mints a token with the same secret; no
// HTTP route calls it, so tokens reaching the API are minted elsewhere.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type tokenClaims struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// Verify parses and validates tokenString, returning the embedded Claims.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, &apperr.Error{Kind: apperr.KindValidation, Message: "invalid access token", Cause: err}
	}
	if !token.Valid {
		return Claims{}, &apperr.Error{Kind: apperr.KindValidation, Message: "invalid access token"}
	}
	if claims.WorkspaceID == "" {
		return Claims{}, &apperr.Error{Kind: apperr.KindValidation, Message: "access token missing workspace_id"}
	}
	return Claims{UserID: claims.UserID, WorkspaceID: claims.WorkspaceID, TokenID: claims.ID}, nil
}

// Issue mints a token for tests and local-dev tooling; production
// issuance happens upstream of this service (spec Non-goals).
func (v *Verifier) Issue(userID, workspaceID, jti string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		UserID:      userID,
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
