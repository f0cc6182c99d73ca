// File: internal/observability/metrics.go
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musinsa"

// Metrics groups every collector the automation core reports to. A nil *Metrics is valid
// and records nothing, so components can be constructed without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	loginOutcomes  *prometheus.CounterVec
	sessionChecks  *prometheus.CounterVec
	listingPages   *prometheus.CounterVec
	confirmations  *prometheus.CounterVec
	reviewWrites   *prometheus.CounterVec
	syncAttempts   *prometheus.CounterVec
	scriptFailures *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
}

// NewMetrics builds the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loginOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "login_outcomes_total",
			Help: "Login attempts by resulting status.",
		}, []string{"status"}),
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_checks_total",
			Help: "Session probes by status and deciding signal.",
		}, []string{"status", "source"}),
		listingPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "listing_pages_total",
			Help: "Listing pages fetched by endpoint and result.",
		}, []string{"endpoint", "result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "confirmations_total",
			Help: "Purchase confirmations by result.",
		}, []string{"result"}),
		reviewWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "review_writes_total",
			Help: "Review submissions by variant, review kind and result.",
		}, []string{"variant", "kind", "result"}),
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "range_sync_attempts_total",
			Help: "Range sync attempts by result (ok, retry, failed).",
		}, []string{"result"}),
		scriptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "script_failures_total",
			Help: "In-page script failures by script and failure kind.",
		}, []string{"script", "kind"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Duration of boundary operations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loginOutcomes, m.sessionChecks, m.listingPages, m.confirmations,
		m.reviewWrites, m.syncAttempts, m.scriptFailures, m.opDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoginOutcome(status string) {
	if m != nil {
		m.loginOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SessionCheck(status, source string) {
	if m != nil {
		m.sessionChecks.WithLabelValues(status, source).Inc()
	}
}

func (m *Metrics) ListingPage(endpoint string, ok bool) {
	if m != nil {
		m.listingPages.WithLabelValues(endpoint, resultLabel(ok)).Inc()
	}
}

func (m *Metrics) Confirmation(ok bool) {
	if m != nil {
		m.confirmations.WithLabelValues(resultLabel(ok)).Inc()
	}
}

func (m *Metrics) ReviewWrite(variant, kind string, ok bool) {
	if m != nil {
		m.reviewWrites.WithLabelValues(variant, kind, resultLabel(ok)).Inc()
	}
}

func (m *Metrics) SyncAttempt(result string) {
	if m != nil {
		m.syncAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ScriptFailure(script, kind string) {
	if m != nil {
		m.scriptFailures.WithLabelValues(script, kind).Inc()
	}
}

// ObserveOperation records the duration of a boundary operation in seconds.
func (m *Metrics) ObserveOperation(op string, seconds float64) {
	if m != nil {
		m.opDuration.WithLabelValues(op).Observe(seconds)
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
