package entitlement

import (
	"context"
	"net/http"
	"sync"

	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

type cacheKey struct{}

// requestCache memoizes record lookups for the lifetime of one request, so
// every surface on a page sees the same record. It is never shared between
// requests.
type requestCache struct {
	mu      sync.Mutex
	entries map[string]*subscription.Record // nil value: user has no record
	stale   map[string]bool
}

// WithRequestCache returns a context carrying a fresh per-request cache.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &requestCache{
		entries: make(map[string]*subscription.Record),
		stale:   make(map[string]bool),
	})
}

// RequestCache is middleware that scopes a record cache to each request.
func RequestCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestCache(r.Context())))
	})
}

func cacheFromContext(ctx context.Context) *requestCache {
	c, _ := ctx.Value(cacheKey{}).(*requestCache)
	return c
}

func (c *requestCache) load(userID string, fetch func() (*subscription.Record, error)) (*subscription.Record, error) {
	if c == nil {
		return fetch()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[userID]; ok {
		return rec.Clone(), nil
	}
	rec, err := fetch()
	if err != nil {
		// Failures are not memoized; a later surface may retry.
		return nil, err
	}
	c.entries[userID] = rec
	return rec.Clone(), nil
}

// markStale reports whether this is the first stale sighting of userID in the request.
func (c *requestCache) markStale(userID string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale[userID] {
		return false
	}
	c.stale[userID] = true
	return true
}
