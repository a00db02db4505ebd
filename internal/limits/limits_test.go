package limits_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/limits"
	"github.com/paynet/fep/internal/model"
)

func TestCardValidator_RejectsBadLengthAndLuhnAndExpiry(t *testing.T) {
	v := limits.CardValidator{RequireLuhn: true, Now: func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }}

	require.Error(t, v.Validate(&model.TransactionRequest{CardNumberRaw: "123"}))
	require.Error(t, v.Validate(&model.TransactionRequest{CardNumberRaw: "4111111111111112"})) // fails Luhn
	require.NoError(t, v.Validate(&model.TransactionRequest{CardNumberRaw: "4111111111111111"}))
	require.Error(t, v.Validate(&model.TransactionRequest{CardNumberRaw: "4111111111111111", CardExpiry: "2501"}))
	require.NoError(t, v.Validate(&model.TransactionRequest{CardNumberRaw: "4111111111111111", CardExpiry: "2612"}))
}

func TestAmountValidator_EnforcesRangeAndMultiple(t *testing.T) {
	v := limits.AmountValidator{Rules: map[model.TransactionType]limits.AmountRule{
		model.TxnWithdrawal: {
			Min: model.Money{MinorUnits: 1000, Currency: "USD"},
			Max: model.Money{MinorUnits: 100000, Currency: "USD"},
			MultipleOfMinorUnits: 500,
		},
	}}
	require.Error(t, v.Validate(&model.TransactionRequest{Type: model.TxnWithdrawal, Amount: model.Money{MinorUnits: -100, Currency: "USD"}}))
	require.Error(t, v.Validate(&model.TransactionRequest{Type: model.TxnWithdrawal, Amount: model.Money{MinorUnits: 500, Currency: "USD"}}))
	require.Error(t, v.Validate(&model.TransactionRequest{Type: model.TxnWithdrawal, Amount: model.Money{MinorUnits: 200000, Currency: "USD"}}))
	require.Error(t, v.Validate(&model.TransactionRequest{Type: model.TxnWithdrawal, Amount: model.Money{MinorUnits: 1250, Currency: "USD"}}))
	require.NoError(t, v.Validate(&model.TransactionRequest{Type: model.TxnWithdrawal, Amount: model.Money{MinorUnits: 1500, Currency: "USD"}}))
}

func TestManager_SingleLimitBreach(t *testing.T) {
	mgr := limits.NewManager(map[model.TransactionType]limits.Thresholds{
		model.TxnWithdrawal: {Single: model.Money{MinorUnits: 50000, Currency: "USD"}},
	})
	err := mgr.CheckLimits(&model.TransactionRequest{Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 60000, Currency: "USD"}})
	require.Error(t, err)
}

func TestManager_DailyLimitAccumulatesAndBreaches(t *testing.T) {
	mgr := limits.NewManager(map[model.TransactionType]limits.Thresholds{
		model.TxnWithdrawal: {Daily: model.Money{MinorUnits: 10000, Currency: "USD"}},
	})
	req1 := &model.TransactionRequest{TransactionID: "t1", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 6000, Currency: "USD"}}
	require.NoError(t, mgr.CheckLimits(req1))
	mgr.RecordUsage(req1)

	req2 := &model.TransactionRequest{TransactionID: "t2", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 6000, Currency: "USD"}}
	require.Error(t, mgr.CheckLimits(req2))
}

func TestManager_RecordUsageIsIdempotentPerTransactionID(t *testing.T) {
	mgr := limits.NewManager(map[model.TransactionType]limits.Thresholds{
		model.TxnWithdrawal: {Daily: model.Money{MinorUnits: 10000, Currency: "USD"}},
	})
	req := &model.TransactionRequest{TransactionID: "t1", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 6000, Currency: "USD"}}
	mgr.RecordUsage(req)
	mgr.RecordUsage(req)

	req2 := &model.TransactionRequest{TransactionID: "t2", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 4000, Currency: "USD"}}
	require.NoError(t, mgr.CheckLimits(req2)) // 6000 + 4000 = 10000 fits; 12000 + 4000 would fail if double-recorded
}

func TestManager_ReverseUsageFreesUpLimit(t *testing.T) {
	mgr := limits.NewManager(map[model.TransactionType]limits.Thresholds{
		model.TxnWithdrawal: {Daily: model.Money{MinorUnits: 10000, Currency: "USD"}},
	})
	req := &model.TransactionRequest{TransactionID: "t1", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 9000, Currency: "USD"}}
	mgr.RecordUsage(req)
	mgr.ReverseUsage("t1")

	req2 := &model.TransactionRequest{TransactionID: "t2", Type: model.TxnWithdrawal, CustomerID: "c1", Amount: model.Money{MinorUnits: 9000, Currency: "USD"}}
	require.NoError(t, mgr.CheckLimits(req2))
}
