package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/wire"
)

type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return &model.TransactionResponse{Approved: true, ResponseCode: model.RespApproved, RRN: req.RRN}, nil
}

func TestNewPipelineHandler_RoundTrip(t *testing.T) {
	h := NewPipelineHandler(fakeRunner{}, "atm-1", nil)

	reqPayload, err := json.Marshal(model.TransactionRequest{RRN: "rrn-1", STAN: "stan-1", Type: model.TxnBalanceInquiry})
	require.NoError(t, err)

	reply, err := h(context.Background(), "peer", &wire.RawMessage{Correlation: "rrn-1|stan-1|", Payload: reqPayload})
	require.NoError(t, err)

	raw := reply.(*wire.RawMessage)
	require.Equal(t, "rrn-1|stan-1|", raw.Correlation)

	var resp model.TransactionResponse
	require.NoError(t, json.Unmarshal(raw.Payload, &resp))
	require.True(t, resp.Approved)
	require.Equal(t, "rrn-1", resp.RRN)
}
