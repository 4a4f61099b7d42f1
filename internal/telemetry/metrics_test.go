package telemetry_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/internal/telemetry"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

func TestMetrics_Observers(t *testing.T) {
	t.Parallel()
	m := telemetry.New()

	m.Transitioned("cancel", subscription.StateActive, subscription.StatePendingCancellation)
	m.Transitioned("cancel", subscription.StateActive, subscription.StatePendingCancellation)
	m.VersionConflict()
	m.WebhookProcessed(subscription.EventRenewed, subscription.OutcomeApplied)
	m.Expired(3)
	m.Decided(entitlement.SurfaceAIAssistant, entitlement.Decision{Reason: entitlement.ReasonExpired})
	m.TaskProcessed("reconcile_user", queue.OutcomeCompleted, 20*time.Millisecond)

	reg := m.Registry()
	count, err := testutil.GatherAndCount(reg,
		"entitlements_subscription_transitions_total",
		"entitlements_subscription_version_conflicts_total",
		"entitlements_webhook_events_total",
		"entitlements_reconciler_expired_total",
		"entitlements_gate_decisions_total",
		"entitlements_queue_tasks_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `entitlements_subscription_transitions_total{cause="cancel",from="active",to="pending_cancellation"} 2`)
	assert.Contains(t, body, `entitlements_reconciler_expired_total 3`)
	assert.Contains(t, body, `entitlements_gate_decisions_total{allowed="false",reason="EXPIRED",surface="ai_assistant"} 1`)
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()
	m := telemetry.New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/entitlement/{surface}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	for _, s := range []string{"ai_assistant", "premium_itinerary"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entitlement/"+s, nil))
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
	}

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `entitlements_http_requests_total{method="GET",route="/entitlement/{surface}",status="402"} 2`)
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
