// Package gateway bridges the Dual-Channel Server's wire-level Handler
// contract (internal/connection) to the Transaction Pipeline
// (internal/pipeline): it decodes an inbound wire.RawMessage payload into a
// model.TransactionRequest, runs it through the pipeline, and re-encodes
// the model.TransactionResponse as the correlated reply.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/connection"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
	"github.com/paynet/fep/internal/wire"
)

// Runner is the narrow pipeline seam this package needs.
type Runner interface {
	Run(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
}

var _ Runner = (*pipeline.Pipeline)(nil)

// NewPipelineHandler adapts runner into a connection.Handler suitable for
// connection.Server / connmanager.Manager.
func NewPipelineHandler(runner Runner, channelName string, logger *zap.Logger) connection.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, peer string, msg wire.Message) (wire.Message, error) {
		raw, ok := msg.(*wire.RawMessage)
		if !ok {
			return nil, nil
		}

		var req model.TransactionRequest
		if err := json.Unmarshal(raw.Payload, &req); err != nil {
			logger.Warn("gateway: malformed transaction payload", zap.String("peer", peer), zap.Error(err))
			return nil, err
		}
		if req.ChannelName == "" {
			req.ChannelName = channelName
		}
		started := time.Now()

		resp, runErr := runner.Run(ctx, &req)
		if resp == nil {
			return nil, runErr
		}
		resp.ProcessingTimeMS = time.Since(started).Milliseconds()

		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return &wire.RawMessage{Correlation: raw.Correlation, Payload: payload}, nil
	}
}
