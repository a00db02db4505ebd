package metrics

// The helpers below all tolerate a nil *Registry so callers can pass a nil
// metrics registry when instrumentation isn't needed (tests, CLIs) without
// sprinkling nil checks through every component.

func (m *Registry) SetConnectionState(channel, state string, active float64) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(channel, state).Set(active)
}

func (m *Registry) IncReconnectAttempts(channel string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(channel).Inc()
}

func (m *Registry) SetPendingRequests(channel string, n float64) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(channel).Set(n)
}

func (m *Registry) ObserveStageLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineStageLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *Registry) IncOutcome(responseCode string) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.WithLabelValues(responseCode).Inc()
}

func (m *Registry) SetTimeoutActive(n float64) {
	if m == nil {
		return
	}
	m.TimeoutActive.Set(n)
}

func (m *Registry) IncTimeoutWarn() {
	if m == nil {
		return
	}
	m.TimeoutWarn.Inc()
}

func (m *Registry) IncTimeoutExpired() {
	if m == nil {
		return
	}
	m.TimeoutExpired.Inc()
}

func (m *Registry) SetDedupeCacheSize(n float64) {
	if m == nil {
		return
	}
	m.DedupeCacheSize.Set(n)
}

func (m *Registry) IncDedupeHits() {
	if m == nil {
		return
	}
	m.DedupeHits.Inc()
}

// SetCircuitBreakerState flags the active state (1) for name and clears the
// other two states (0), matching the one-hot convention SetConnectionState
// uses for connection states.
func (m *Registry) SetCircuitBreakerState(name, active string, allStates []string) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.CircuitBreakerState.WithLabelValues(name, s).Set(v)
	}
}
