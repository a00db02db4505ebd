package processor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
	"github.com/paynet/fep/internal/processor"
	"github.com/paynet/fep/internal/processor/inquiry"
	"github.com/paynet/fep/internal/processor/withdrawal"
)

func TestRegistry_ResolveUnknownType_IsTransactionNotPermitted(t *testing.T) {
	reg := processor.NewRegistry()
	_, err := reg.Resolve(model.TxnTransfer)
	require.Error(t, err)
}

func TestRoutingAndProcessingHandlers_ApproveWithdrawal(t *testing.T) {
	reg := processor.NewRegistry()
	reg.Register(withdrawal.New())

	p := pipeline.New(nil, nil, nil)
	p.Register(pipeline.StageRouting, 1, processor.RoutingHandler(reg))
	p.Register(pipeline.StageProcessing, 1, processor.ProcessingHandler())

	req := &model.TransactionRequest{
		TransactionID: "tx1", Type: model.TxnWithdrawal,
		SourceAccount: "acct-1", Amount: model.Money{MinorUnits: 1000, Currency: "USD"},
		RRN: "rrn1", STAN: "stan1",
	}
	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Approved)
	require.Equal(t, model.RespApproved, resp.ResponseCode)
}

func TestProcessingHandler_ValidateFailureDeclines(t *testing.T) {
	reg := processor.NewRegistry()
	reg.Register(withdrawal.New())

	p := pipeline.New(nil, nil, nil)
	p.Register(pipeline.StageRouting, 1, processor.RoutingHandler(reg))
	p.Register(pipeline.StageProcessing, 1, processor.ProcessingHandler())

	req := &model.TransactionRequest{TransactionID: "tx2", Type: model.TxnWithdrawal}
	resp, err := p.Run(context.Background(), req)
	require.Error(t, err)
	require.False(t, resp.Approved)
}

func TestInquiryProcessor_ReturnsBalanceExtension(t *testing.T) {
	reg := processor.NewRegistry()
	reg.Register(inquiry.New(nil))

	p := pipeline.New(nil, nil, nil)
	p.Register(pipeline.StageRouting, 1, processor.RoutingHandler(reg))
	p.Register(pipeline.StageProcessing, 1, processor.ProcessingHandler())

	req := &model.TransactionRequest{TransactionID: "tx3", Type: model.TxnBalanceInquiry, SourceAccount: "acct-1"}
	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Approved)
	require.Contains(t, resp.Extensions, "availableBalance")
}
