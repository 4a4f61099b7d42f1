package auth

import (
	"net/http"
	"strings"
)

// UnauthorizedHandler writes the response for a rejected request.
type UnauthorizedHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware requires a valid bearer token and stores its Identity in the
// request context. Rejections go to onError, or a plain 401 when nil.
func Middleware(v *Verifier, onError UnauthorizedHandler) func(http.Handler) http.Handler {
	if v == nil {
		panic("auth: nil verifier")
	}
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				onError(w, r, ErrMissingToken)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
