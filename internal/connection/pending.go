package connection

import (
	"sync"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/wire"
)

// requestResult is what a waiter receives: either a matched response or an
// error explaining why none will arrive (PEER_CLOSED, CANCELLED).
type requestResult struct {
	msg wire.Message
	err error
}

// pendingRequests correlates outbound requests awaiting a response arriving
// on the (possibly separate) receive socket, keyed by wire.Message's
// CorrelationKey. spec.md §4.2 requires a DUPLICATE_CORRELATION error if a
// caller reuses a key still in flight, rather than silently overwriting it.
type pendingRequests struct {
	mu      sync.Mutex
	waiters map[string]chan requestResult
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{waiters: make(map[string]chan requestResult)}
}

// register reserves key and returns the channel the eventual response will
// be delivered on. It fails if key is already in flight.
func (p *pendingRequests) register(key string) (chan requestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[key]; exists {
		return nil, ferr.Protocol(ferr.CodeDuplicateCorrelation, "correlation key already in flight: "+key, nil)
	}
	ch := make(chan requestResult, 1)
	p.waiters[key] = ch
	return ch, nil
}

// deliver routes an inbound message to its waiter, reporting whether one was
// found. Unmatched responses (no registered waiter) are the caller's
// responsibility to log; they are not an error here, since an unsolicited
// or late message is a protocol-layer concern, not a connection-layer one.
func (p *pendingRequests) deliver(key string, msg wire.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		delete(p.waiters, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- requestResult{msg: msg}
	return true
}

// cancel removes key's waiter, delivering err instead of a message. Used
// when a request times out while in flight.
func (p *pendingRequests) cancel(key string, err error) {
	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		delete(p.waiters, key)
	}
	p.mu.Unlock()
	if ok {
		ch <- requestResult{err: err}
	}
}

// count returns the number of in-flight correlations, for metrics.
func (p *pendingRequests) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// drainWithError resolves every pending waiter with err, used when the
// connection drops so blocked SendAndReceive callers get PEER_CLOSED instead
// of hanging forever.
func (p *pendingRequests) drainWithError(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan requestResult)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- requestResult{err: err}
	}
}
