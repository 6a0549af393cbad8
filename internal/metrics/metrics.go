// Package metrics exposes Prometheus counters for key issuance, revocation
// and request gating. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors and the registry they
// are registered with.
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions  *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	keysIssued     prometheus.Counter
	keysRevoked    prometheus.Counter
	metadataErrors prometheus.Counter
	limiterErrors  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry. namespace defaults
// to "keygate".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keygate"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of request gate decisions",
		},
		[]string{"outcome", "reason"},
	)

	m.verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "verify_duration_seconds",
			Help:      "Key verification duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"result"},
	)

	m.keysIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keys",
		Name:      "issued_total",
		Help:      "Total number of API keys issued",
	})

	m.keysRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keys",
		Name:      "revoked_total",
		Help:      "Total number of API keys revoked",
	})

	m.metadataErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keys",
		Name:      "metadata_errors_total",
		Help:      "Keys issued whose metadata record could not be written",
	})

	m.limiterErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "backend_errors_total",
			Help:      "Total number of rate limiter backend failures",
		},
		[]string{"backend"},
	)

	m.registry.MustRegister(
		m.gateDecisions,
		m.verifyDuration,
		m.keysIssued,
		m.keysRevoked,
		m.metadataErrors,
		m.limiterErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Init pre-creates the common label combinations so the series appear on
// /metrics before the first request.
func (m *Metrics) Init() {
	if m == nil {
		return
	}
	for _, o := range []struct{ outcome, reason string }{
		{"authorized", ""},
		{"unauthorized", "not_found"},
		{"unauthorized", "revoked"},
		{"rate_limited", ""},
		{"unavailable", ""},
	} {
		m.gateDecisions.WithLabelValues(o.outcome, o.reason)
	}
	for _, r := range []string{"valid", "not_found", "revoked", "error"} {
		m.verifyDuration.WithLabelValues(r)
	}
}

// RecordGateDecision counts one gate outcome.
func (m *Metrics) RecordGateDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordVerification observes how long a verification took.
func (m *Metrics) RecordVerification(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordKeyIssued counts an issued key.
func (m *Metrics) RecordKeyIssued() {
	if m == nil {
		return
	}
	m.keysIssued.Inc()
}

// RecordKeyRevoked counts a successful revocation.
func (m *Metrics) RecordKeyRevoked() {
	if m == nil {
		return
	}
	m.keysRevoked.Inc()
}

// RecordMetadataError counts a key issued without its metadata.
func (m *Metrics) RecordMetadataError() {
	if m == nil {
		return
	}
	m.metadataErrors.Inc()
}

// RecordLimiterError counts a rate limiter backend failure.
func (m *Metrics) RecordLimiterError(backend string, _ error) {
	if m == nil {
		return
	}
	m.limiterErrors.WithLabelValues(backend).Inc()
}

// Registry returns the underlying registry.
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
