// Package timeout implements the Timeout Manager (C5, spec.md §4.5): a
// scheduling API independent of the pipeline that tracks per-transaction
// deadlines on a single shared 1-second ticker, firing onWarning/onTimeout/
// onComplete callbacks with an at-most-one-terminal-callback guarantee. The
// shared-ticker-plus-atomic-terminal-flag shape is grounded on the teacher's
// circuit_breaker.go atomic state machine (internal/resiliency), generalized
// here from a binary open/closed state to a three-way
// tracking/warned/terminal lifecycle.
package timeout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
)

// terminal states for an entry, stored atomically so the monitor goroutine
// and CompleteTracking can race safely: only the first CAS away from
// terminalNone wins.
const (
	terminalNone int32 = iota
	terminalCompleted
	terminalExpired
)

type entry struct {
	transactionID string
	txType        model.TransactionType
	startedAt     time.Time
	timeout       time.Duration
	warned        int32 // 0/1, CAS guarded
	terminal      int32
}

func (e *entry) elapsed() time.Duration { return time.Since(e.startedAt) }

func (e *entry) remaining() time.Duration {
	r := e.timeout - e.elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Manager is the Timeout Manager (C5).
type Manager struct {
	logger  *zap.Logger
	metrics *metrics.Registry

	defaults map[model.TransactionType]time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	onWarning  func(txnID string, txType model.TransactionType)
	onTimeout  func(txnID string, txType model.TransactionType)
	onComplete func(txnID string, txType model.TransactionType)

	tickerStop context.CancelFunc
	shutdown   int32
}

// DefaultTimeouts returns the per-transaction-type defaults from spec.md
// §4.5: balance inquiry 5s, withdrawal 10s, transfer 15s, bill payment 30s.
// Reversal inherits the withdrawal default since it replays a prior debit.
func DefaultTimeouts() map[model.TransactionType]time.Duration {
	return map[model.TransactionType]time.Duration{
		model.TxnBalanceInquiry: 5 * time.Second,
		model.TxnWithdrawal:     10 * time.Second,
		model.TxnTransfer:       15 * time.Second,
		model.TxnBillPayment:    30 * time.Second,
		model.TxnReversal:       10 * time.Second,
	}
}

// New constructs a Manager with the given per-type defaults (nil uses
// DefaultTimeouts) and starts its shared 1-second monitor ticker.
func New(defaults map[model.TransactionType]time.Duration, logger *zap.Logger, m *metrics.Registry) (*Manager, error) {
	if defaults == nil {
		defaults = DefaultTimeouts()
	}
	for txType, d := range defaults {
		if d <= 0 {
			return nil, ferr.Config("INVALID_TIMEOUT", fmt.Sprintf("timeout for %s must be positive, got %v", txType, d), nil)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr := &Manager{
		logger:   logger.With(zap.String("component", "timeout")),
		metrics:  m,
		defaults: defaults,
		entries:  make(map[string]*entry),
	}
	ctx, cancel := context.WithCancel(context.Background())
	mgr.tickerStop = cancel
	go mgr.monitorLoop(ctx)
	return mgr, nil
}

// OnWarning, OnTimeout, OnComplete register the (single) callback for each
// lifecycle event. Registering replaces any previous callback.
func (m *Manager) OnWarning(fn func(txnID string, txType model.TransactionType)) { m.onWarning = fn }
func (m *Manager) OnTimeout(fn func(txnID string, txType model.TransactionType))  { m.onTimeout = fn }
func (m *Manager) OnComplete(fn func(txnID string, txType model.TransactionType)) { m.onComplete = fn }

// StartTracking registers txnID for deadline monitoring. overrideMs, if > 0,
// replaces the per-type default.
func (m *Manager) StartTracking(txnID string, txType model.TransactionType, overrideMs int) error {
	timeoutDur, ok := m.defaults[txType]
	if !ok {
		return ferr.Config("UNKNOWN_TXN_TYPE", fmt.Sprintf("no default timeout configured for %s", txType), nil)
	}
	if overrideMs > 0 {
		timeoutDur = time.Duration(overrideMs) * time.Millisecond
	}

	m.mu.Lock()
	if _, exists := m.entries[txnID]; exists {
		m.mu.Unlock()
		return ferr.Config("ALREADY_TRACKED", fmt.Sprintf("transaction %s is already tracked", txnID), nil)
	}
	e := &entry{transactionID: txnID, txType: txType, startedAt: time.Now(), timeout: timeoutDur}
	m.entries[txnID] = e
	count := len(m.entries)
	m.mu.Unlock()

	m.metrics.SetTimeoutActive(float64(count))
	return nil
}

// CompleteTracking marks txnID COMPLETED and invokes onComplete, unless it
// already expired (COMPLETED must never overwrite EXPIRED).
func (m *Manager) CompleteTracking(txnID string) bool {
	m.mu.Lock()
	e, ok := m.entries[txnID]
	if ok {
		delete(m.entries, txnID)
	}
	count := len(m.entries)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.metrics.SetTimeoutActive(float64(count))

	if !atomic.CompareAndSwapInt32(&e.terminal, terminalNone, terminalCompleted) {
		return false // already expired
	}
	if m.onComplete != nil {
		m.onComplete(txnID, e.txType)
	}
	return true
}

// GetRemainingTime returns the remaining duration before expiry, 0 for an
// unknown id, and never negative.
func (m *Manager) GetRemainingTime(txnID string) time.Duration {
	m.mu.Lock()
	e, ok := m.entries[txnID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return e.remaining()
}

// ActiveCount returns the number of non-terminal tracked transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ExecuteWithTimeout starts tracking txnID, runs work on the calling
// goroutine's behalf with an absolute deadline derived from the tracked
// timeout, and completes or expires tracking based on the outcome.
func (m *Manager) ExecuteWithTimeout(ctx context.Context, txnID string, txType model.TransactionType, overrideMs int, work func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := m.StartTracking(txnID, txType, overrideMs); err != nil {
		return nil, err
	}
	remaining := m.GetRemainingTime(txnID)
	workCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	type result struct {
		val interface{}
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		val, err := work(workCtx)
		resultCh <- result{val: val, err: err}
	}()

	select {
	case res := <-resultCh:
		m.CompleteTracking(txnID)
		return res.val, res.err
	case <-workCtx.Done():
		m.expireNow(txnID)
		return nil, ferr.Timeout(ferr.CodeRequestTimeout, fmt.Sprintf("transaction %s exceeded its deadline", txnID))
	}
}

func (m *Manager) expireNow(txnID string) {
	m.mu.Lock()
	e, ok := m.entries[txnID]
	if ok {
		delete(m.entries, txnID)
	}
	count := len(m.entries)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.metrics.SetTimeoutActive(float64(count))
	if atomic.CompareAndSwapInt32(&e.terminal, terminalNone, terminalExpired) {
		m.metrics.IncTimeoutExpired()
		if m.onTimeout != nil {
			m.onTimeout(txnID, e.txType)
		}
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	snapshot := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		if atomic.LoadInt32(&e.terminal) != terminalNone {
			continue
		}
		elapsed := e.elapsed()
		if elapsed >= e.timeout {
			m.expireNow(e.transactionID)
			continue
		}
		if elapsed >= (e.timeout*80)/100 {
			if atomic.CompareAndSwapInt32(&e.warned, 0, 1) {
				m.metrics.IncTimeoutWarn()
				if m.onWarning != nil {
					m.onWarning(e.transactionID, e.txType)
				}
			}
		}
	}
}

// Shutdown stops the monitor ticker. No callback fires after Shutdown
// returns.
func (m *Manager) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.shutdown, 0, 1) {
		return
	}
	m.tickerStop()
}
