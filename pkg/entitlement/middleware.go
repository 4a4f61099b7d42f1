package entitlement

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// DeniedHandler writes the response for a request the Gate turned away.
// err is non-nil when the decision could not be made.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, surface Surface, d Decision, err error)

type deniedResponse struct {
	Error   string  `json:"error"`
	Reason  Reason  `json:"reason,omitempty"`
	Surface Surface `json:"surface"`
}

// DefaultDeniedHandler answers 403 for the admin surface, 402 for premium
// surfaces and 503 when entitlement could not be determined.
func DefaultDeniedHandler(w http.ResponseWriter, r *http.Request, surface Surface, d Decision, err error) {
	resp := deniedResponse{Reason: d.Reason, Surface: surface}
	status := http.StatusPaymentRequired
	resp.Error = "premium subscription required"

	switch {
	case errors.Is(err, ErrUnavailable):
		status = http.StatusServiceUnavailable
		resp.Error = "entitlement temporarily unavailable"
		resp.Reason = ""
	case surface.adminOnly():
		status = http.StatusForbidden
		resp.Error = "admin role required"
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// Require guards a route with the given surface. The caller is read from the
// request context (see WithSubject).
func (g *Gate) Require(surface Surface) func(http.Handler) http.Handler {
	if !surface.Valid() {
		panic("entitlement: unknown surface " + string(surface))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Check(r.Context(), surface, SubjectFromContext(r.Context()))
			if err != nil || !d.CanAccessPremium {
				g.denied(w, r, surface, d, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
