// Package resiliency adapts the teacher's consumer/circuit_breaker.go atomic
// state machine into a shared collaborator used both by the connection
// layer's reconnect loop (internal/connection) and the gRPC limit-advisor
// client (internal/limits/grpcadvisor). What flows through it that the
// teacher's version never had: a Prometheus gauge (WithMetrics) tracking
// which state each named breaker is in, fed into the same fep metrics
// registry the connection and pipeline layers already publish to, so an
// operator sees a channel's reconnect breaker and the limit advisor's
// breaker on the same dashboard as everything else.
package resiliency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/metrics"
)

// allBreakerStates lists every CircuitState in the order SetCircuitBreakerState
// should zero out the inactive ones.
var allBreakerStates = []string{StateClosed.String(), StateHalfOpen.String(), StateOpen.String()}

// CircuitState mirrors the teacher's three-state breaker.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("resiliency: circuit breaker is open")

// CircuitBreaker is a consecutive-failure breaker with a half-open probe
// phase. The CAS state machine is unchanged from the teacher's version; the
// metrics sink (see WithMetrics) is the FEP-specific addition.
type CircuitBreaker struct {
	name            string
	maxFailures     int32
	resetTimeout    time.Duration
	halfOpenSuccess int32
	logger          *zap.Logger
	metrics         *metrics.Registry

	state             int32
	failures          int32
	lastFailureTime   int64
	halfOpenSuccesses int32
}

func NewCircuitBreaker(name string, maxFailures int32, resetTimeout time.Duration, halfOpenSuccess int32, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:            name,
		maxFailures:     maxFailures,
		resetTimeout:    resetTimeout,
		halfOpenSuccess: halfOpenSuccess,
		logger:          logger.With(zap.String("circuit_breaker", name)),
	}
}

// WithMetrics attaches m so every state transition is mirrored into
// fep_resiliency_circuit_breaker_state, labeled by this breaker's name. A nil
// m is accepted (metrics.Registry's setters are nil-safe) and immediately
// publishes the breaker's current (closed) state.
func (cb *CircuitBreaker) WithMetrics(m *metrics.Registry) *CircuitBreaker {
	cb.metrics = m
	cb.publishState()
	return cb
}

func (cb *CircuitBreaker) publishState() {
	cb.metrics.SetCircuitBreakerState(cb.name, cb.State().String(), allBreakerStates)
}

// Call executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
		if time.Since(time.Unix(0, lastFailure)) > cb.resetTimeout {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
				atomic.StoreInt32(&cb.halfOpenSuccesses, 0)
				cb.logger.Info("circuit transitioning open -> half-open")
				cb.publishState()
			}
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	state := CircuitState(atomic.LoadInt32(&cb.state))
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch state {
	case StateClosed:
		if failures >= cb.maxFailures {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
				cb.logger.Warn("circuit opened", zap.Int32("consecutive_failures", failures))
				cb.publishState()
			}
		}
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
			atomic.StoreInt32(&cb.failures, 0)
			cb.logger.Warn("circuit reopened from half-open")
			cb.publishState()
		}
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)
	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.halfOpenSuccesses, 1)
		if successes >= cb.halfOpenSuccess {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
				atomic.StoreInt32(&cb.failures, 0)
				atomic.StoreInt32(&cb.halfOpenSuccesses, 0)
				cb.logger.Info("circuit closed", zap.Int32("half_open_successes", successes))
				cb.publishState()
			}
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState { return CircuitState(atomic.LoadInt32(&cb.state)) }

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int32 { return atomic.LoadInt32(&cb.failures) }

// RetryConfig configures RetryWithBackoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	CircuitBreaker *CircuitBreaker
	Logger         *zap.Logger
}

// DefaultRetryConfig returns sane defaults paired with a fresh breaker.
func DefaultRetryConfig(name string, logger *zap.Logger) RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       500 * time.Millisecond,
		Multiplier:     2.0,
		CircuitBreaker: NewCircuitBreaker(name, 5, 30*time.Second, 2, logger),
		Logger:         logger,
	}
}

// RetryWithBackoff retries fn with exponential backoff, honoring an optional
// circuit breaker and ctx cancellation between attempts.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.CircuitBreaker != nil && !cfg.CircuitBreaker.canExecute() {
			return fmt.Errorf("resiliency: %w", ErrCircuitOpen)
		}

		err := fn()
		if err == nil {
			if cfg.CircuitBreaker != nil {
				cfg.CircuitBreaker.recordSuccess()
			}
			return nil
		}
		lastErr = err
		if cfg.CircuitBreaker != nil {
			cfg.CircuitBreaker.recordFailure()
		}
		if attempt >= cfg.MaxAttempts {
			break
		}
		logger.Warn("retry attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", cfg.MaxAttempts), zap.Error(err), zap.Duration("next_delay", delay))

		select {
		case <-ctx.Done():
			return fmt.Errorf("resiliency: retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("resiliency: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}
