package timeout_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/timeout"
)

func TestManager_CompleteTracking_FiresOnComplete(t *testing.T) {
	mgr, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: time.Second}, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()

	var completed int32
	mgr.OnComplete(func(txnID string, txType model.TransactionType) { atomic.StoreInt32(&completed, 1) })

	require.NoError(t, mgr.StartTracking("t1", model.TxnWithdrawal, 0))
	require.True(t, mgr.CompleteTracking("t1"))
	require.Equal(t, int32(1), atomic.LoadInt32(&completed))
	require.Equal(t, 0, mgr.ActiveCount())
}

func TestManager_Expiry_FiresOnTimeoutAndBlocksLateComplete(t *testing.T) {
	mgr, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: 30 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()

	var timedOut int32
	mgr.OnTimeout(func(txnID string, txType model.TransactionType) { atomic.StoreInt32(&timedOut, 1) })

	require.NoError(t, mgr.StartTracking("t2", model.TxnWithdrawal, 0))
	// The shared monitor ticker sweeps once a second.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&timedOut) == 1 }, 2*time.Second, 5*time.Millisecond)

	// COMPLETED must never overwrite EXPIRED.
	require.False(t, mgr.CompleteTracking("t2"))
}

func TestManager_Warning_FiresAt80Percent(t *testing.T) {
	// 1.2s timeout: the first 1s sweep sees about 1s elapsed, past the 80%
	// mark (960ms) and before expiry.
	mgr, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: 1200 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()

	var warned int32
	mgr.OnWarning(func(txnID string, txType model.TransactionType) { atomic.StoreInt32(&warned, 1) })

	require.NoError(t, mgr.StartTracking("t3", model.TxnWithdrawal, 0))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&warned) == 1 }, 2*time.Second, 5*time.Millisecond)
	mgr.CompleteTracking("t3")
}

func TestManager_ExecuteWithTimeout_ExpiresSlowWork(t *testing.T) {
	mgr, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: 20 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()

	_, err = mgr.ExecuteWithTimeout(context.Background(), "t4", model.TxnWithdrawal, 0, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
}

func TestManager_ExecuteWithTimeout_CompletesFastWork(t *testing.T) {
	mgr, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: time.Second}, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()

	val, err := mgr.ExecuteWithTimeout(context.Background(), "t5", model.TxnWithdrawal, 0, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", val)
}

func TestManager_GetRemainingTime_UnknownIDIsZero(t *testing.T) {
	mgr, err := timeout.New(nil, nil, nil)
	require.NoError(t, err)
	defer mgr.Shutdown()
	require.Equal(t, time.Duration(0), mgr.GetRemainingTime("nope"))
}

func TestNew_RejectsNonPositiveTimeout(t *testing.T) {
	_, err := timeout.New(map[model.TransactionType]time.Duration{model.TxnWithdrawal: 0}, nil, nil)
	require.Error(t, err)
}
