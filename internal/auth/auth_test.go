package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castlemilk/pricelake/backend/internal/store"
)

func TestVerifier_IssueThenVerifyRoundTrips(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("user1", "ws1", "jti1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user1", claims.UserID)
	require.Equal(t, "ws1", claims.WorkspaceID)
	require.Equal(t, "jti1", claims.TokenID)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	v1 := NewVerifier("secret-a")
	v2 := NewVerifier("secret-b")

	token, err := v1.Issue("user1", "ws1", "jti1", time.Hour)
	require.NoError(t, err)

	_, err = v2.Verify(token)
	require.Error(t, err)
}

func TestMiddleware_MissingTokenIsUnauthorized(t *testing.T) {
	v := NewVerifier("secret")
	s := store.NewMemoryStore()
	mw := NewMiddleware(v, nil, s, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uploads", nil)
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_ValidBearerTokenReachesHandler(t *testing.T) {
	v := NewVerifier("secret")
	s := store.NewMemoryStore()
	mw := NewMiddleware(v, nil, s, false)

	token, err := v.Issue("user1", "ws1", "jti1", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	var gotWorkspace string
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFrom(r.Context())
		gotWorkspace = claims.WorkspaceID
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ws1", gotWorkspace)
}

func TestMiddleware_ApiKeyCheckedAheadOfJWT(t *testing.T) {
	v := NewVerifier("secret")
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateApiToken(context.Background(), &store.ApiToken{
		ID: "t1", WorkspaceID: "ws-ci", TokenHash: HashToken("raw-key"),
	}))
	mw := NewMiddleware(v, nil, s, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.Header.Set("X-API-Key", "raw-key")

	var gotWorkspace string
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFrom(r.Context())
		gotWorkspace = claims.WorkspaceID
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ws-ci", gotWorkspace)
}

func TestMiddleware_SSETokenQueryParamFallback(t *testing.T) {
	v := NewVerifier("secret")
	s := store.NewMemoryStore()
	mw := NewMiddleware(v, nil, s, false)

	token, err := v.Issue("user1", "ws1", "jti1", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uploads/up1/status?token="+token, nil)

	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_PublicEndpointSkipsAuth(t *testing.T) {
	v := NewVerifier("secret")
	s := store.NewMemoryStore()
	mw := NewMiddleware(v, nil, s, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
