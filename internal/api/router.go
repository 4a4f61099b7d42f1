// Package api is the HTTP surface of the entitlement engine.
package api

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/entitlements/internal/jobs"
	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/requestid"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Config holds HTTP API settings.
type Config struct {
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CORSMaxAge         int           `env:"CORS_MAX_AGE" envDefault:"300"`
	RequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	WebhookMaxBody     int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimit          RateLimitConfig
}

// Deps are the collaborators of the router. Metrics and Checks are optional.
type Deps struct {
	Controller *subscription.Controller
	History    subscription.HistoryReader
	Gate       *entitlement.Gate
	Webhooks   subscription.WebhookParser
	Enqueuer   jobs.Enqueuer
	Verifier   *auth.Verifier
	Metrics    MetricsRecorder
	Checks     []httpserver.Check
	Logger     *slog.Logger
}

// MetricsRecorder instruments requests and serves the scrape endpoint.
type MetricsRecorder interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// NewRouter builds the HTTP handler. It panics when a mandatory dependency is nil.
func NewRouter(cfg Config, d Deps) http.Handler {
	switch {
	case d.Controller == nil:
		panic("api: nil controller")
	case d.History == nil:
		panic("api: nil history reader")
	case d.Gate == nil:
		panic("api: nil gate")
	case d.Webhooks == nil:
		panic("api: nil webhook parser")
	case d.Enqueuer == nil:
		panic("api: nil enqueuer")
	case d.Verifier == nil:
		panic("api: nil verifier")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.WebhookMaxBody <= 0 {
		cfg.WebhookMaxBody = 1 << 20
	}

	h := &handlers{
		ctrl:     d.Controller,
		history:  d.History,
		gate:     d.Gate,
		webhooks: d.Webhooks,
		enqueuer: d.Enqueuer,
		validate: newValidator(),
		maxBody:  cfg.WebhookMaxBody,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestid.Header},
		ExposedHeaders: []string{requestid.Header, "Retry-After"},
		MaxAge:         cfg.CORSMaxAge,
	}))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, d.Checks...))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Post("/webhook/subscription-event", h.receiveWebhook)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(auth.Middleware(d.Verifier, func(w http.ResponseWriter, r *http.Request, err error) {
			respondError(w, r, log, err)
		}))
		r.Use(subjectFromIdentity)
		if cfg.RateLimit.Enabled {
			r.Use(newClientLimiter(cfg.RateLimit).Middleware)
		}
		r.Use(entitlement.RequestCache)

		r.Get("/entitlement", h.getEntitlement)
		r.Get("/entitlement/{surface}", h.getSurfaceEntitlement)

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", h.getSubscription)
			r.Get("/history", h.getHistory)
			r.Post("/cancel", h.cancel)
			r.Post("/reactivate", h.reactivate)
			r.Post("/change-plan", h.changePlan)
		})

		r.With(d.Gate.Require(entitlement.SurfacePremiumItinerary)).Get("/premium/ping", h.ping)
		r.With(d.Gate.Require(entitlement.SurfaceAIAssistant)).Get("/assistant/ping", h.ping)
		r.With(d.Gate.Require(entitlement.SurfaceAdmin)).Get("/admin/ping", h.ping)
	})

	return r
}

// DeniedHandler renders gate denials in the API envelope: 403 for admin-only
// surfaces, 402 for premium ones and 503 when entitlement is unknown.
func DeniedHandler(w http.ResponseWriter, r *http.Request, surface entitlement.Surface, d entitlement.Decision, err error) {
	status, detail := http.StatusPaymentRequired, &ErrorDetail{Code: "payment_required", Message: "premium subscription required"}
	switch {
	case err != nil:
		status, detail = http.StatusServiceUnavailable, &ErrorDetail{Code: ErrServiceUnavailable.Key, Message: "entitlement temporarily unavailable"}
	case d.Reason == entitlement.ReasonAdminRequired:
		status, detail = http.StatusForbidden, &ErrorDetail{Code: "forbidden", Message: "admin role required"}
	}

	meta := map[string]any{"surface": surface}
	if err == nil {
		meta["reason"] = d.Reason
	}
	render.Status(r, status)
	render.JSON(w, r, Response{Meta: meta, Error: detail})
}

// subjectFromIdentity turns the authenticated token identity into the
// entitlement subject.
func subjectFromIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())
		ctx := entitlement.WithSubject(r.Context(), entitlement.Subject{
			UserID: id.UserID,
			Role:   entitlement.ParseRole(id.Role),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.DebugContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.String("remote_ip", r.RemoteAddr),
				logger.Duration(time.Since(start)))
		})
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
