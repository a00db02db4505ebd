package dedupe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/dedupe"
	"github.com/paynet/fep/internal/model"
)

func TestChecker_RejectsDuplicateWithinWindow(t *testing.T) {
	c := dedupe.New(100, time.Minute, nil)
	fp := model.DuplicateFingerprint{RRN: "r1", STAN: "s1", TerminalID: "t1"}
	require.NoError(t, c.Validate(fp))
	err := c.Validate(fp)
	require.Error(t, err)
	require.Equal(t, 1, c.Size())
}

func TestChecker_AllowsAfterRetentionExpires(t *testing.T) {
	c := dedupe.New(100, 10*time.Millisecond, nil)
	fp := model.DuplicateFingerprint{RRN: "r2", STAN: "s2", TerminalID: "t2"}
	require.NoError(t, c.Validate(fp))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Validate(fp))
}

func TestChecker_EvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	c := dedupe.New(2, time.Minute, nil)
	require.NoError(t, c.Validate(model.DuplicateFingerprint{RRN: "a"}))
	require.NoError(t, c.Validate(model.DuplicateFingerprint{RRN: "b"}))
	require.NoError(t, c.Validate(model.DuplicateFingerprint{RRN: "c"}))
	require.Equal(t, 2, c.Size())
}

func TestChecker_Clear(t *testing.T) {
	c := dedupe.New(10, time.Minute, nil)
	require.NoError(t, c.Validate(model.DuplicateFingerprint{RRN: "a"}))
	c.Clear()
	require.Equal(t, 0, c.Size())
}

func TestRetentionFor_UsesLargestTimeoutTimesFour(t *testing.T) {
	r := dedupe.RetentionFor(map[model.TransactionType]time.Duration{
		model.TxnBalanceInquiry: 5 * time.Second,
		model.TxnTransfer:       15 * time.Second,
	})
	require.Equal(t, 60*time.Second, r)
}
