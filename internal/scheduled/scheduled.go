// Package scheduled implements the Scheduled-Transfer Engine (C10, spec.md
// §4.10): create/suspend/resume/cancel future-dated and recurring
// transfers, plus a daily sweep that injects due entries into the
// transaction pipeline. The shared single-ticker sweep loop is grounded on
// the Timeout Manager's monitorLoop (internal/timeout), generalized here
// from a one-second deadline sweep to a once-a-day due-date sweep.
package scheduled

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// maxLeadTime bounds how far in the future a scheduled transfer may be
// dated, per spec.md §4.10 ("within one year").
const maxLeadTime = 365 * 24 * time.Hour

// Runner is the narrow seam the engine needs to execute a due transfer: the
// transaction pipeline itself. Kept as an interface so tests can supply a
// stub instead of wiring a full *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
}

var _ Runner = (*pipeline.Pipeline)(nil)

// LimitChecker is consulted at creation time to keep a scheduled transfer's
// amount within the transfer limits the Limit Manager (C9) already
// enforces at execution time; catching an over-limit amount at creation
// avoids silently stranding an ACTIVE entry that will simply decline every
// time the sweep runs it.
type LimitChecker interface {
	CheckLimits(req *model.TransactionRequest) error
}

// Engine is the Scheduled-Transfer Engine (C10).
type Engine struct {
	runner Runner
	limits LimitChecker
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*model.ScheduledTransfer
}

// New constructs an Engine. limits may be nil to skip the creation-time
// amount check.
func New(runner Runner, limits LimitChecker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		runner:  runner,
		limits:  limits,
		logger:  logger.With(zap.String("component", "scheduled")),
		now:     time.Now,
		entries: make(map[string]*model.ScheduledTransfer),
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	CustomerID    string
	SourceAccount string
	DestAccount   string
	Amount        model.Money
	Recurrence    model.Recurrence
	ScheduledDate time.Time
	EndDate       time.Time // required (non-zero) for recurring entries
}

// Create validates req per spec.md §4.10 and stores a new ACTIVE entry.
func (e *Engine) Create(req CreateRequest) (*model.ScheduledTransfer, error) {
	today := e.now().Truncate(24 * time.Hour)
	due := req.ScheduledDate.Truncate(24 * time.Hour)

	if due.Before(today) {
		return nil, ferr.Transaction(model.RespNotPermitted, "SCHEDULE_DATE_PAST", "scheduled date must be today or in the future")
	}
	if due.After(today.Add(maxLeadTime)) {
		return nil, ferr.Transaction(model.RespNotPermitted, "SCHEDULE_DATE_TOO_FAR", "scheduled date must be within one year")
	}
	if req.Recurrence != model.RecurrenceOneTime && req.EndDate.IsZero() {
		return nil, ferr.Transaction(model.RespNotPermitted, "END_DATE_REQUIRED", "recurring transfers require an end date")
	}
	if !req.Amount.IsPositive() {
		return nil, ferr.Transaction(model.RespNotPermitted, "INVALID_AMOUNT", "scheduled transfer amount must be positive")
	}

	if e.limits != nil {
		probe := &model.TransactionRequest{
			TransactionID: "probe",
			Type:          model.TxnTransfer,
			Amount:        req.Amount,
			SourceAccount: req.SourceAccount,
			DestAccount:   req.DestAccount,
			CustomerID:    req.CustomerID,
		}
		if err := e.limits.CheckLimits(probe); err != nil {
			return nil, err
		}
	}

	st := &model.ScheduledTransfer{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		SourceAccount: req.SourceAccount,
		DestAccount:   req.DestAccount,
		Amount:        req.Amount,
		Recurrence:    req.Recurrence,
		ScheduledDate: due,
		EndDate:       req.EndDate,
		Status:        model.ScheduledActive,
		CreatedAt:     e.now(),
	}

	e.mu.Lock()
	e.entries[st.ID] = st
	e.mu.Unlock()

	e.logger.Info("scheduled transfer created", zap.String("id", st.ID), zap.String("recurrence", string(st.Recurrence)))
	return st, nil
}

// Get returns the entry by id, or (nil, false) if unknown.
func (e *Engine) Get(id string) (*model.ScheduledTransfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.entries[id]
	return st, ok
}

// Suspend toggles an ACTIVE entry to SUSPENDED.
func (e *Engine) Suspend(id string) error {
	return e.transitionStatus(id, model.ScheduledActive, model.ScheduledSuspended)
}

// Resume toggles a SUSPENDED entry back to ACTIVE.
func (e *Engine) Resume(id string) error {
	return e.transitionStatus(id, model.ScheduledSuspended, model.ScheduledActive)
}

func (e *Engine) transitionStatus(id string, from, to model.ScheduledTransferStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.entries[id]
	if !ok {
		return ferr.Transaction(model.RespNotPermitted, "SCHEDULE_NOT_FOUND", fmt.Sprintf("no scheduled transfer %s", id))
	}
	if st.Status != from {
		return ferr.Transaction(model.RespNotPermitted, "INVALID_SCHEDULE_STATE", fmt.Sprintf("scheduled transfer %s is %s, cannot move to %s", id, st.Status, to))
	}
	st.Status = to
	return nil
}

// Cancel marks an entry CANCELLED; the caller must present the same
// customer id that created it (spec.md §4.10).
func (e *Engine) Cancel(id, customerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.entries[id]
	if !ok {
		return ferr.Transaction(model.RespNotPermitted, "SCHEDULE_NOT_FOUND", fmt.Sprintf("no scheduled transfer %s", id))
	}
	if st.CustomerID != customerID {
		return ferr.Transaction(model.RespNotPermitted, "CUSTOMER_MISMATCH", "cancel must be requested by the creating customer")
	}
	if st.Status == model.ScheduledCompleted || st.Status == model.ScheduledCancelled {
		return ferr.Transaction(model.RespNotPermitted, "INVALID_SCHEDULE_STATE", fmt.Sprintf("scheduled transfer %s is already %s", id, st.Status))
	}
	st.Status = model.ScheduledCancelled
	return nil
}

// DueEntries returns a snapshot of every ACTIVE entry whose ScheduledDate is
// on or before date, sorted by id for deterministic iteration in tests.
func (e *Engine) DueEntries(date time.Time) []*model.ScheduledTransfer {
	cutoff := date.Truncate(24 * time.Hour)
	e.mu.Lock()
	defer e.mu.Unlock()
	var due []*model.ScheduledTransfer
	for _, st := range e.entries {
		if st.Status == model.ScheduledActive && !st.ScheduledDate.After(cutoff) {
			due = append(due, st)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// ExecuteDue runs the daily sweep for date: every due ACTIVE entry is
// injected into the pipeline as a TRANSFER request; the outcome (approved
// or declined) advances its lifecycle per spec.md §4.10 regardless of
// whether the transfer itself was approved — only the schedule's own
// due-date bookkeeping is this engine's concern, not payment retry policy.
func (e *Engine) ExecuteDue(ctx context.Context, date time.Time) int {
	due := e.DueEntries(date)
	for _, st := range due {
		e.executeOne(ctx, st)
	}
	return len(due)
}

func (e *Engine) executeOne(ctx context.Context, st *model.ScheduledTransfer) {
	req := &model.TransactionRequest{
		TransactionID: uuid.NewString(),
		Type:          model.TxnTransfer,
		Amount:        st.Amount,
		SourceAccount: st.SourceAccount,
		DestAccount:   st.DestAccount,
		CustomerID:    st.CustomerID,
		RRN:           st.ID,
		STAN:          st.ID,
	}

	resp, err := e.runner.Run(ctx, req)
	if err != nil && resp == nil {
		e.logger.Error("scheduled transfer execution failed", zap.String("id", st.ID), zap.Error(err))
	} else if resp != nil {
		e.logger.Info("scheduled transfer executed", zap.String("id", st.ID), zap.String("response_code", resp.ResponseCode))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Re-fetch in case Suspend/Cancel raced with this sweep.
	current, ok := e.entries[st.ID]
	if !ok || current.Status != model.ScheduledActive {
		return
	}

	if current.Recurrence == model.RecurrenceOneTime {
		current.Status = model.ScheduledCompleted
		return
	}

	next := advance(current.ScheduledDate, current.Recurrence)
	if !current.EndDate.IsZero() && next.After(current.EndDate) {
		current.Status = model.ScheduledCompleted
		return
	}
	current.ScheduledDate = next
}

// advance returns the next occurrence date for a recurring transfer.
func advance(from time.Time, r model.Recurrence) time.Time {
	switch r {
	case model.RecurrenceDaily:
		return from.AddDate(0, 0, 1)
	case model.RecurrenceWeekly:
		return from.AddDate(0, 0, 7)
	case model.RecurrenceMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from
	}
}

// StartDailySweep runs ExecuteDue once every interval (24h in production;
// tests use a shorter interval) until ctx is cancelled.
func (e *Engine) StartDailySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := e.ExecuteDue(ctx, e.now())
				if n > 0 {
					e.logger.Info("daily sweep executed due transfers", zap.Int("count", n))
				}
			}
		}
	}()
}
