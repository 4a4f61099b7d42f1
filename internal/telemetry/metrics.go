// Package telemetry exposes Prometheus metrics for the lifecycle engine, the
// entitlement gate, the task queue and the HTTP API.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

const namespace = "entitlements"

// Metrics implements subscription.Observer, entitlement.DecisionObserver and
// queue.TaskObserver.
type Metrics struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	versionConflicts prometheus.Counter
	webhooks         *prometheus.CounterVec
	expired          prometheus.Counter
	decisions        *prometheus.CounterVec
	tasks            *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

var (
	_ subscription.Observer        = (*Metrics)(nil)
	_ entitlement.DecisionObserver = (*Metrics)(nil)
	_ queue.TaskObserver           = (*Metrics)(nil)
)

// New registers every collector on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "transitions_total",
			Help:      "Committed subscription writes by cause and state change.",
		}, []string{"cause", "from", "to"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on subscription writes.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Processed payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "expired_total",
			Help:      "Pending cancellations flipped to expired by reconciliation.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Entitlement decisions by surface, result and reason.",
		}, []string{"surface", "allowed", "reason"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Processed queue tasks by name and outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_duration_seconds",
			Help:      "Queue task handler duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.versionConflicts, m.webhooks, m.expired, m.decisions,
		m.tasks, m.taskDuration, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Transitioned(cause string, from, to subscription.StateKind) {
	m.transitions.WithLabelValues(cause, from.Name(), to.Name()).Inc()
}

func (m *Metrics) VersionConflict() { m.versionConflicts.Inc() }

func (m *Metrics) WebhookProcessed(eventType subscription.EventType, outcome string) {
	m.webhooks.WithLabelValues(string(eventType), outcome).Inc()
}

func (m *Metrics) Expired(count int) { m.expired.Add(float64(count)) }

func (m *Metrics) Decided(surface entitlement.Surface, d entitlement.Decision) {
	m.decisions.WithLabelValues(string(surface), strconv.FormatBool(d.CanAccessPremium), string(d.Reason)).Inc()
}

func (m *Metrics) TaskProcessed(taskName, outcome string, d time.Duration) {
	m.tasks.WithLabelValues(taskName, outcome).Inc()
	m.taskDuration.WithLabelValues(taskName).Observe(d.Seconds())
}

// Middleware records request counts and latency by chi route pattern, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
