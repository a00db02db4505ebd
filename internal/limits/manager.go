package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// Thresholds bounds a single customer+type counter: a per-transaction
// ceiling plus cumulative daily and monthly ceilings (spec.md §4.9).
type Thresholds struct {
	Single  model.Money
	Daily   model.Money
	Monthly model.Money
}

type counterKey struct {
	customerID string
	txType     model.TransactionType
}

type counters struct {
	dailyPeriod   string
	dailyUsed     model.Money
	monthlyPeriod string
	monthlyUsed   model.Money
}

// usageRecord lets RecordUsage be idempotent per transaction id and lets a
// reversal invert exactly what the original transaction recorded.
type usageRecord struct {
	customerID string
	txType     model.TransactionType
	amount     model.Money
}

// Manager is the Limit Manager half of C9: checkLimits/recordUsage over
// per-customer, per-type counters.
type Manager struct {
	thresholds map[model.TransactionType]Thresholds
	now        func() time.Time

	mu       sync.Mutex
	counters map[counterKey]*counters
	recorded map[string]usageRecord // keyed by transaction id
}

func NewManager(thresholds map[model.TransactionType]Thresholds) *Manager {
	return &Manager{
		thresholds: thresholds,
		now:        time.Now,
		counters:   make(map[counterKey]*counters),
		recorded:   make(map[string]usageRecord),
	}
}

func (m *Manager) periods(t time.Time) (daily, monthly string) {
	return t.Format("2006-01-02"), t.Format("2006-01")
}

func (m *Manager) counterFor(key counterKey) *counters {
	c, ok := m.counters[key]
	if !ok {
		c = &counters{}
		m.counters[key] = c
	}
	day, month := m.periods(m.now())
	if c.dailyPeriod != day {
		c.dailyPeriod = day
		c.dailyUsed = model.Money{Currency: c.dailyUsed.Currency}
	}
	if c.monthlyPeriod != month {
		c.monthlyPeriod = month
		c.monthlyUsed = model.Money{Currency: c.monthlyUsed.Currency}
	}
	return c
}

// CheckLimits reports the specific limit breached (single/daily/monthly),
// or nil if req is within all configured thresholds for its type.
func (m *Manager) CheckLimits(req *model.TransactionRequest) error {
	th, ok := m.thresholds[req.Type]
	if !ok {
		return nil
	}
	if th.Single.Currency != "" && req.Amount.GreaterThan(th.Single) {
		return ferr.Transaction(model.RespExceedsWithdrawLimit, "SINGLE_LIMIT_EXCEEDED",
			fmt.Sprintf("amount %s exceeds single-transaction limit %s", req.Amount, th.Single))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{customerID: req.CustomerID, txType: req.Type}
	c := m.counterFor(key)

	if th.Daily.Currency != "" && c.dailyUsed.Add(req.Amount).GreaterThan(th.Daily) {
		remaining := th.Daily.Sub(c.dailyUsed)
		return ferr.Transaction(model.RespExceedsWithdrawLimit, "DAILY_LIMIT_EXCEEDED",
			fmt.Sprintf("amount %s would exceed daily limit %s (remaining %s)", req.Amount, th.Daily, remaining))
	}
	if th.Monthly.Currency != "" && c.monthlyUsed.Add(req.Amount).GreaterThan(th.Monthly) {
		remaining := th.Monthly.Sub(c.monthlyUsed)
		return ferr.Transaction(model.RespExceedsWithdrawLimit, "MONTHLY_LIMIT_EXCEEDED",
			fmt.Sprintf("amount %s would exceed monthly limit %s (remaining %s)", req.Amount, th.Monthly, remaining))
	}
	return nil
}

// RecordUsage applies req's amount to its customer+type counters,
// idempotently per transaction id (spec.md §4.9: usage recorded idempotently
// per transaction id; repeated calls for the same id are no-ops).
func (m *Manager) RecordUsage(req *model.TransactionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, already := m.recorded[req.TransactionID]; already {
		return
	}
	key := counterKey{customerID: req.CustomerID, txType: req.Type}
	c := m.counterFor(key)
	c.dailyUsed = c.dailyUsed.Add(req.Amount)
	c.monthlyUsed = c.monthlyUsed.Add(req.Amount)
	m.recorded[req.TransactionID] = usageRecord{customerID: req.CustomerID, txType: req.Type, amount: req.Amount}
}

// ReverseUsage inverts the usage recorded under originalTransactionID, as
// spec.md §7 requires for a REVERSAL: "a reversal inverts usage for the
// referenced original transaction." A reversal of an id with no recorded
// usage is a no-op (nothing to invert).
func (m *Manager) ReverseUsage(originalTransactionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recorded[originalTransactionID]
	if !ok {
		return
	}
	key := counterKey{customerID: rec.customerID, txType: rec.txType}
	c := m.counterFor(key)
	c.dailyUsed = c.dailyUsed.Sub(rec.amount)
	c.monthlyUsed = c.monthlyUsed.Sub(rec.amount)
	delete(m.recorded, originalTransactionID)
}

// CheckHandler returns a pipeline.Handler for the VALIDATION stage.
func (m *Manager) CheckHandler() pipeline.Handler {
	return pipeline.NewHandlerFunc("limit-check", func(ctx context.Context, pctx *pipeline.Context) error {
		if pctx.Request.Type == model.TxnReversal {
			return nil // reversals invert usage in AUDIT, not subject to forward limits
		}
		return m.CheckLimits(pctx.Request)
	})
}

// UsageHandler returns a pipeline.Handler for the AUDIT stage: records
// usage on approval, or inverts usage on a successfully processed reversal.
func (m *Manager) UsageHandler() pipeline.Handler {
	return pipeline.NewHandlerFunc("limit-usage", func(ctx context.Context, pctx *pipeline.Context) error {
		if !pctx.Response.Approved {
			return nil
		}
		if pctx.Request.Type == model.TxnReversal {
			m.ReverseUsage(pctx.Request.ReversalOf)
			return nil
		}
		m.RecordUsage(pctx.Request)
		return nil
	})
}
