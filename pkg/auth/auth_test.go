package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/auth"
)

func newVerifier(t *testing.T, cfg auth.Config) *auth.Verifier {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	v, err := auth.NewVerifier(cfg)
	require.NoError(t, err)
	return v
}

func TestVerifier(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t, auth.Config{Issuer: "identity", Audience: "entitlements"})

		token, err := v.Issue(auth.Identity{UserID: "u1", Role: "premium"})
		require.NoError(t, err)

		id, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{UserID: "u1", Role: "premium"}, id)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := newVerifier(t, auth.Config{Secret: "other"})
		token, err := other.Issue(auth.Identity{UserID: "u1"})
		require.NoError(t, err)

		_, err = newVerifier(t, auth.Config{}).Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		claims := jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = newVerifier(t, auth.Config{}).Verify(token)
		assert.ErrorIs(t, err, auth.ErrExpiredToken)
	})

	t.Run("other signing methods are rejected", func(t *testing.T) {
		t.Parallel()
		claims := jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = newVerifier(t, auth.Config{}).Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		t.Parallel()
		token, err := newVerifier(t, auth.Config{Issuer: "someone-else"}).Issue(auth.Identity{UserID: "u1"})
		require.NoError(t, err)

		_, err = newVerifier(t, auth.Config{Issuer: "identity"}).Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("secret is required", func(t *testing.T) {
		t.Parallel()
		_, err := auth.NewVerifier(auth.Config{})
		assert.ErrorIs(t, err, auth.ErrMissingSecret)
	})

	t.Run("subject is required", func(t *testing.T) {
		t.Parallel()
		_, err := newVerifier(t, auth.Config{}).Issue(auth.Identity{})
		assert.ErrorIs(t, err, auth.ErrMissingSubject)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	v := newVerifier(t, auth.Config{})

	handler := auth.Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.UserID + ":" + id.Role))
	}))

	token, err := v.Issue(auth.Identity{UserID: "u42", Role: "user"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid token", header: "Bearer " + token, status: http.StatusOK, body: "u42:user"},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusOK, body: "u42:user"},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
