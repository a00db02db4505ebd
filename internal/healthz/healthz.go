// Package healthz adapts the teacher's producer/health.go and consumer
// readiness-flag pattern (atomic package-level bools polled by HTTP
// handlers) into a dependency-injected Checker: callers register named
// dependency probes instead of the teacher's fixed kafkaHealthy/
// configLoaded globals, and health/readiness state lives on the Checker
// instance rather than in package variables.
package healthz

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe reports whether a named dependency is currently healthy.
type Probe func() error

// Checker aggregates named probes behind /health (liveness: process is
// running) and /ready (readiness: every probe currently passes).
type Checker struct {
	service   string
	startedAt time.Time

	mu     sync.RWMutex
	probes map[string]Probe
}

// New constructs a Checker for service, used to label its JSON output the
// way the teacher's HealthStatus.Service field does.
func New(service string) *Checker {
	return &Checker{service: service, startedAt: time.Now(), probes: make(map[string]Probe)}
}

// Register adds or replaces the named probe.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// status mirrors the teacher's ReadinessStatus, generalized from two fixed
// fields (kafka_ready, liquidity_ready) to an arbitrary named map.
type status struct {
	Ready     bool            `json:"ready"`
	Service   string          `json:"service"`
	Timestamp time.Time       `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	Checks    map[string]bool `json:"checks"`
}

func (c *Checker) snapshot() status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	checks := make(map[string]bool, len(c.probes))
	ready := true
	for name, probe := range c.probes {
		ok := probe() == nil
		checks[name] = ok
		if !ok {
			ready = false
		}
	}
	return status{
		Ready:     ready,
		Service:   c.service,
		Timestamp: time.Now(),
		Uptime:    time.Since(c.startedAt).String(),
		Checks:    checks,
	}
}

// HandleHealth is a liveness handler: 200 as long as the process can
// respond at all, regardless of dependency state.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(c.snapshot())
}

// HandleReady is a readiness handler: 503 unless every registered probe
// currently passes.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	st := c.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if st.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}

// Mux registers /health and /ready on mux (e.g. http.NewServeMux()).
func (c *Checker) Mux(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.HandleHealth)
	mux.HandleFunc("/ready", c.HandleReady)
}
