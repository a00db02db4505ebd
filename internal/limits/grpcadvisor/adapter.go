package grpcadvisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/paynet/fep/internal/limits"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/resiliency"
)

// Adapter implements limits.Advisor over a gRPC LimitAdvisorClient, wrapped
// in a circuit breaker adapted from the teacher's consumer/circuit_breaker.go
// (internal/resiliency) so a misbehaving external limit host degrades to
// fail-fast instead of stalling every transaction behind it.
type Adapter struct {
	conn   *grpc.ClientConn
	client LimitAdvisorClient
	cb     *resiliency.CircuitBreaker
	logger *zap.Logger
}

// Dial connects to address and returns a ready Adapter. The dial itself is
// context-bounded the same way the teacher's NewLiquidityClient bounds its
// grpc.DialContext to 5 seconds. m may be nil; see resiliency.WithMetrics.
func Dial(ctx context.Context, address string, logger *zap.Logger, m *metrics.Registry) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcadvisor: dial %s: %w", address, err)
	}

	return &Adapter{
		conn:   conn,
		client: NewLimitAdvisorClient(conn),
		cb:     resiliency.NewCircuitBreaker("limit-advisor", 5, 30*time.Second, 2, logger).WithMetrics(m),
		logger: logger.With(zap.String("component", "grpcadvisor")),
	}, nil
}

// Close closes the underlying connection.
func (a *Adapter) Close() error { return a.conn.Close() }

// CheckExternalLimit implements limits.Advisor.
func (a *Adapter) CheckExternalLimit(ctx context.Context, req limits.ExternalLimitRequest) (limits.ExternalLimitResponse, error) {
	var resp limits.ExternalLimitResponse
	err := a.cb.Call(func() error {
		rpcCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		out, err := a.client.CheckLimit(rpcCtx, &CheckLimitRequest{
			CustomerID:       req.CustomerID,
			Type:             req.Type,
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         req.Currency,
		})
		if err != nil {
			return err
		}
		resp = limits.ExternalLimitResponse{
			Approved:            out.Approved,
			ReasonCode:          out.ReasonCode,
			AvailableMinorUnits: out.AvailableMinorUnits,
		}
		return nil
	})
	if err != nil {
		return limits.ExternalLimitResponse{}, fmt.Errorf("grpcadvisor: check limit: %w", err)
	}
	return resp, nil
}
