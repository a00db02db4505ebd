package connection

import (
	"sync"
	"sync/atomic"

	"github.com/paynet/fep/internal/model"
)

// stateMachine wraps a model.ConnectionState behind atomic CAS transitions
// guarded by model.IsLegalTransition, in the spirit of the teacher's
// circuit_breaker.go atomic-state-with-CAS idiom (internal/resiliency).
// Listeners registered via onChange are invoked outside any lock.
type stateMachine struct {
	state int32

	mu        sync.Mutex
	listeners []func(from, to model.ConnectionState)
}

func newStateMachine(initial model.ConnectionState) *stateMachine {
	return &stateMachine{state: int32(initial)}
}

func (s *stateMachine) current() model.ConnectionState {
	return model.ConnectionState(atomic.LoadInt32(&s.state))
}

// transition attempts from -> to and reports whether it succeeded. A
// concurrent transition away from `from` (or an illegal edge) fails the CAS
// and this returns false without side effects.
func (s *stateMachine) transition(from, to model.ConnectionState) bool {
	if !model.IsLegalTransition(from, to) {
		return false
	}
	if !atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to)) {
		return false
	}
	s.notify(from, to)
	return true
}

// forceTransition ignores the legality table; the client uses it to enter
// FAILED after a connect or reconnect failure, DISCONNECTING on Close, and
// RECONNECTING between reconnect attempts.
func (s *stateMachine) forceTransition(to model.ConnectionState) {
	from := model.ConnectionState(atomic.SwapInt32(&s.state, int32(to)))
	if from != to {
		s.notify(from, to)
	}
}

func (s *stateMachine) onChange(fn func(from, to model.ConnectionState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *stateMachine) notify(from, to model.ConnectionState) {
	s.mu.Lock()
	listeners := append([]func(from, to model.ConnectionState){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(from, to)
	}
}
