// Package metrics wires the ambient Prometheus instrumentation shared by the
// connection layer and the transaction pipeline (SPEC_FULL.md A2), grounded
// on the client_golang usage pattern in jordigilh-kubernaut's go.mod.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the gauges/counters/histograms every core component
// registers into on construction. A nil *Registry is valid everywhere
// (methods are safe on the zero value via nil checks), so metrics are
// optional, not load-bearing.
type Registry struct {
	reg *prometheus.Registry

	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts *prometheus.CounterVec
	PendingRequests   *prometheus.GaugeVec

	PipelineStageLatency *prometheus.HistogramVec
	PipelineOutcomes     *prometheus.CounterVec

	TimeoutActive  prometheus.Gauge
	TimeoutWarn    prometheus.Counter
	TimeoutExpired prometheus.Counter

	DedupeCacheSize prometheus.Gauge
	DedupeHits      prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
}

// New constructs a Registry and registers every metric with a fresh
// prometheus.Registry (tests use their own instance to avoid collisions with
// the process-wide default registry).
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current ConnectionState per channel (1 = this state is active).",
		}, []string{"channel", "state"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts per channel.",
		}, []string{"channel"}),
		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "connection",
			Name:      "pending_requests",
			Help:      "In-flight correlated requests awaiting a response, per channel.",
		}, []string{"channel"}),
		PipelineStageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fep",
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Per-stage handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		PipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Pipeline outcomes by response code.",
		}, []string{"response_code"}),
		TimeoutActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "timeout",
			Name:      "active",
			Help:      "Currently tracked (non-terminal) transactions.",
		}),
		TimeoutWarn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "timeout",
			Name:      "warnings_total",
			Help:      "onWarning callback firings.",
		}),
		TimeoutExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "timeout",
			Name:      "expired_total",
			Help:      "onTimeout callback firings.",
		}),
		DedupeCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "dedupe",
			Name:      "cache_size",
			Help:      "Current number of tracked fingerprints.",
		}),
		DedupeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "dedupe",
			Name:      "hits_total",
			Help:      "Duplicate fingerprints rejected.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "resiliency",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state per name (1 = this state is active).",
		}, []string{"name", "state"}),
	}
	reg.MustRegister(
		m.ConnectionState, m.ReconnectAttempts, m.PendingRequests,
		m.PipelineStageLatency, m.PipelineOutcomes,
		m.TimeoutActive, m.TimeoutWarn, m.TimeoutExpired,
		m.DedupeCacheSize, m.DedupeHits,
		m.CircuitBreakerState,
	)
	return m
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP /metrics
// handler (promhttp.HandlerFor).
func (m *Registry) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.reg
}
