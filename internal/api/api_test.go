package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/internal/api"
	"github.com/dmitrymomot/entitlements/internal/jobs"
	"github.com/dmitrymomot/entitlements/internal/telemetry"
	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

const signatureHeader = "X-Test-Signature"

type fakeParser struct {
	ev  subscription.Event
	err error
}

func (p fakeParser) ParseWebhook(_ context.Context, _ []byte, signature string) (subscription.Event, error) {
	if signature != "valid" {
		return subscription.Event{}, subscription.ErrWebhookVerificationFailed
	}
	return p.ev, p.err
}

func (fakeParser) SignatureHeader() string { return signatureHeader }

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, any, ...queue.EnqueueOption) error {
	return errors.New("queue unavailable")
}

type env struct {
	handler  http.Handler
	store    *subscription.MemoryStore
	tasks    *queue.MemoryStorage
	verifier *auth.Verifier
}

type envOption func(*api.Config, *api.Deps)

func newEnv(t *testing.T, opts ...envOption) env {
	t.Helper()

	store := subscription.NewMemoryStore()
	ctrl := subscription.NewController(store, nil, subscription.WithLogger(logger.Noop()))
	verifier, err := auth.NewVerifier(auth.Config{Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)

	tasks := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(tasks)
	require.NoError(t, err)

	cfg := api.Config{CORSAllowedOrigins: []string{"*"}, WebhookMaxBody: 1 << 10}
	deps := api.Deps{
		Controller: ctrl,
		History:    store,
		Gate:       entitlement.NewGate(store, entitlement.WithLogger(logger.Noop()), entitlement.WithDeniedHandler(api.DeniedHandler)),
		Webhooks:   fakeParser{ev: subscription.Event{ID: "evt_1", Type: subscription.EventRenewed, ExternalPaymentRef: "sub_1"}},
		Enqueuer:   enq,
		Verifier:   verifier,
		Logger:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	return env{handler: api.NewRouter(cfg, deps), store: store, tasks: tasks, verifier: verifier}
}

func (e env) seed(t *testing.T, userID string, mutate func(*subscription.Record)) {
	t.Helper()
	now := time.Now().UTC()
	end := now.AddDate(0, 0, 10)
	rec := &subscription.Record{
		ID:                 uuid.New(),
		UserID:             userID,
		Plan:               subscription.PlanMonthly,
		Status:             subscription.StatusActive,
		IsActive:           true,
		StartDate:          now.AddDate(0, -1, 0),
		EndDate:            &end,
		ExternalPaymentRef: "sub_" + userID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, e.store.Put(context.Background(), rec, 0))
}

func (e env) do(t *testing.T, method, path, role, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := e.verifier.Issue(auth.Identity{UserID: userID, Role: role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *api.ErrorDetail
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e), rr.Body.String())
	return e
}

func TestEntitlementEndpoints(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.seed(t, "active-user", nil)
	e.seed(t, "suspended-user", func(r *subscription.Record) {
		r.Status = subscription.StatusSuspended
		r.IsActive = false
	})

	tests := []struct {
		name   string
		path   string
		role   string
		userID string
		status int
		want   string
	}{
		{"active", "/entitlement", "user", "active-user", http.StatusOK, `{"can_access_premium":true,"reason":"ACTIVE"}`},
		{"no record", "/entitlement", "user", "nobody", http.StatusOK, `{"can_access_premium":false,"reason":"NO_SUBSCRIPTION"}`},
		{"suspended", "/entitlement", "user", "suspended-user", http.StatusOK, `{"can_access_premium":false,"reason":"PAYMENT_SUSPENDED"}`},
		{"admin", "/entitlement", "admin", "root", http.StatusOK, `{"can_access_premium":true,"reason":"ADMIN_OVERRIDE"}`},
		{"surface", "/entitlement/ai_assistant", "user", "active-user", http.StatusOK, `{"surface":"ai_assistant","can_access":true,"reason":"ACTIVE"}`},
		{"admin surface", "/entitlement/admin", "premium", "active-user", http.StatusOK, `{"surface":"admin","can_access":false,"reason":"ADMIN_REQUIRED"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := e.do(t, http.MethodGet, tt.path, tt.role, tt.userID, nil)
			require.Equal(t, tt.status, rr.Code)
			assert.JSONEq(t, tt.want, string(decode(t, rr).Data))
		})
	}

	t.Run("unknown surface", func(t *testing.T) {
		t.Parallel()
		rr := e.do(t, http.MethodGet, "/entitlement/teleport", "user", "active-user", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "unknown_surface", decode(t, rr).Error.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		rr := e.do(t, http.MethodGet, "/entitlement", "", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "unauthorized", decode(t, rr).Error.Code)
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.seed(t, "u1", nil)

	rr := e.do(t, http.MethodGet, "/subscription", "user", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var view api.SubscriptionView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &view))
	assert.Equal(t, "active", view.State)
	assert.NotContains(t, rr.Body.String(), "external_payment_ref")

	rr = e.do(t, http.MethodPost, "/subscription/cancel", "user", "u1", map[string]bool{"immediate": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &view))
	assert.Equal(t, "pending_cancellation", view.State)
	assert.True(t, view.IsActive)

	rr = e.do(t, http.MethodPost, "/subscription/cancel", "user", "u1", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "repeated end-of-period cancel is a no-op")

	rr = e.do(t, http.MethodPost, "/subscription/reactivate", "user", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &view))
	assert.Equal(t, "active", view.State)

	rr = e.do(t, http.MethodPost, "/subscription/change-plan", "user", "u1", map[string]string{"plan": "annual"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &view))
	assert.Equal(t, subscription.PlanAnnual, view.Plan)

	rr = e.do(t, http.MethodGet, "/subscription/history", "user", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history []api.SubscriptionView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &history))
	assert.Len(t, history, 1)
}

func TestSubscriptionErrors(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.seed(t, "monthly", nil)

	tests := []struct {
		name   string
		path   string
		userID string
		body   any
		status int
		code   string
	}{
		{"no subscription", "/subscription", "ghost", nil, http.StatusNotFound, "subscription_not_found"},
		{"cancel without subscription", "/subscription/cancel", "ghost", nil, http.StatusNotFound, "no_active_subscription"},
		{"reactivate active", "/subscription/reactivate", "monthly", nil, http.StatusUnprocessableEntity, "not_reactivatable"},
		{"same plan", "/subscription/change-plan", "monthly", map[string]string{"plan": "monthly"}, http.StatusUnprocessableEntity, "invalid_plan_transition"},
		{"free plan", "/subscription/change-plan", "monthly", map[string]string{"plan": "free"}, http.StatusUnprocessableEntity, "validation_error"},
		{"missing plan", "/subscription/change-plan", "monthly", nil, http.StatusUnprocessableEntity, "validation_error"},
		{"malformed body", "/subscription/change-plan", "monthly", "not an object", http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			method := http.MethodPost
			if tt.path == "/subscription" {
				method = http.MethodGet
			}
			rr := e.do(t, method, tt.path, "user", tt.userID, tt.body)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, decode(t, rr).Error.Code)
		})
	}

	t.Run("validation details name json fields", func(t *testing.T) {
		t.Parallel()
		rr := e.do(t, http.MethodPost, "/subscription/change-plan", "user", "monthly", map[string]string{"plan": "weekly"})
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, []string{"oneof"}, decode(t, rr).Error.Details["plan"])
	})
}

func TestGatedSurfaces(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.seed(t, "paid", nil)

	tests := []struct {
		name   string
		path   string
		role   string
		userID string
		status int
		reason string
	}{
		{"premium allowed", "/premium/ping", "user", "paid", http.StatusOK, ""},
		{"premium denied", "/premium/ping", "user", "free", http.StatusPaymentRequired, "NO_SUBSCRIPTION"},
		{"assistant denied", "/assistant/ping", "visitor", "free", http.StatusPaymentRequired, "NO_SUBSCRIPTION"},
		{"admin denied", "/admin/ping", "premium", "paid", http.StatusForbidden, "ADMIN_REQUIRED"},
		{"admin allowed", "/admin/ping", "admin", "root", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := e.do(t, http.MethodGet, tt.path, tt.role, tt.userID, nil)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.reason != "" {
				assert.Equal(t, tt.reason, decode(t, rr).Meta["reason"])
			}
		})
	}
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	post := func(e env, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/subscription-event", bytes.NewBufferString(`{}`))
		req.Header.Set(signatureHeader, signature)
		rr := httptest.NewRecorder()
		e.handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("queues verified event", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		rr := post(e, "valid")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())

		task, err := e.tasks.GetPendingTaskByName(context.Background(), jobs.ProcessWebhookEvent{}.TaskName())
		require.NoError(t, err)
		assert.Equal(t, queue.PriorityHigh, task.Priority)
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		rr := post(e, "forged")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		_, err := e.tasks.GetPendingTaskByName(context.Background(), jobs.ProcessWebhookEvent{}.TaskName())
		assert.ErrorIs(t, err, queue.ErrTaskNotFound)
	})

	t.Run("acknowledges unknown event without queueing", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(_ *api.Config, d *api.Deps) {
			d.Webhooks = fakeParser{ev: subscription.Event{ID: "evt_2", Type: subscription.EventUnknown, ProviderType: "address.created"}}
		})

		rr := post(e, "valid")
		require.Equal(t, http.StatusOK, rr.Code)
		_, err := e.tasks.GetPendingTaskByName(context.Background(), jobs.ProcessWebhookEvent{}.TaskName())
		assert.ErrorIs(t, err, queue.ErrTaskNotFound)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(_ *api.Config, d *api.Deps) {
			d.Webhooks = fakeParser{err: subscription.ErrInvalidEvent}
		})
		assert.Equal(t, http.StatusBadRequest, post(e, "valid").Code)
	})

	t.Run("enqueue failure asks for redelivery", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(_ *api.Config, d *api.Deps) {
			d.Enqueuer = failingEnqueuer{}
		})
		rr := post(e, "valid")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "queue unavailable")
	})
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(c *api.Config, _ *api.Deps) {
		c.RateLimit = api.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	})

	for range 2 {
		rr := e.do(t, http.MethodGet, "/entitlement", "user", "u1", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := e.do(t, http.MethodGet, "/entitlement", "user", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = e.do(t, http.MethodGet, "/entitlement", "user", "u2", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "limits are per client")
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	metrics := telemetry.New()
	e := newEnv(t, func(_ *api.Config, d *api.Deps) {
		d.Metrics = metrics
	})

	for path, want := range map[string]int{"/health/live": http.StatusOK, "/health/ready": http.StatusOK, "/metrics": http.StatusOK} {
		rr := httptest.NewRecorder()
		e.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}
