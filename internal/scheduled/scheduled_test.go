package scheduled

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/model"
)

type fakeRunner struct {
	responses []*model.TransactionResponse
	calls     int
}

func (f *fakeRunner) Run(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	defer func() { f.calls++ }()
	if f.calls < len(f.responses) {
		return f.responses[f.calls], nil
	}
	return &model.TransactionResponse{Approved: true, ResponseCode: model.RespApproved}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEngine_Create_RejectsPastDate(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	_, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceOneTime,
		ScheduledDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestEngine_Create_RejectsTooFarOut(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	_, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceOneTime,
		ScheduledDate: time.Date(2028, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestEngine_Create_RecurringRequiresEndDate(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	_, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceMonthly,
		ScheduledDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestEngine_ExecuteDue_OneTimeCompletes(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	st, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceOneTime,
		ScheduledDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	n := e.ExecuteDue(context.Background(), time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 1, n)

	got, ok := e.Get(st.ID)
	require.True(t, ok)
	require.Equal(t, model.ScheduledCompleted, got.Status)
}

func TestEngine_ExecuteDue_RecurringAdvances(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	st, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceWeekly,
		ScheduledDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	e.ExecuteDue(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	got, ok := e.Get(st.ID)
	require.True(t, ok)
	require.Equal(t, model.ScheduledActive, got.Status)
	require.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), got.ScheduledDate)
}

func TestEngine_ExecuteDue_RecurringCompletesAfterEndDate(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	st, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceWeekly,
		ScheduledDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	e.ExecuteDue(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	got, ok := e.Get(st.ID)
	require.True(t, ok)
	require.Equal(t, model.ScheduledCompleted, got.Status)
}

func TestEngine_SuspendResume(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	st, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceOneTime,
		ScheduledDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, e.Suspend(st.ID))
	require.Error(t, e.Suspend(st.ID)) // already suspended

	n := e.ExecuteDue(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 0, n, "suspended entries are not swept")

	require.NoError(t, e.Resume(st.ID))
	n = e.ExecuteDue(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 1, n)
}

func TestEngine_Cancel_RequiresMatchingCustomer(t *testing.T) {
	e := New(&fakeRunner{}, nil, nil)
	e.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	st, err := e.Create(CreateRequest{
		CustomerID:    "cust-1",
		Amount:        model.Money{MinorUnits: 1000, Currency: "USD"},
		Recurrence:    model.RecurrenceOneTime,
		ScheduledDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Error(t, e.Cancel(st.ID, "cust-2"))
	require.NoError(t, e.Cancel(st.ID, "cust-1"))

	got, _ := e.Get(st.ID)
	require.Equal(t, model.ScheduledCancelled, got.Status)
}
