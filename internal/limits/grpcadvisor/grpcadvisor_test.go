package grpcadvisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/paynet/fep/internal/limits"
	"github.com/paynet/fep/internal/resiliency"
)

func newTestBreaker() *resiliency.CircuitBreaker {
	return resiliency.NewCircuitBreaker("test-limit-advisor", 5, 30*time.Second, 2, zap.NewNop())
}

const bufSize = 1024 * 1024

type fakeServer struct {
	resp *CheckLimitResponse
	err  error
}

func (f *fakeServer) CheckLimit(ctx context.Context, req *CheckLimitRequest) (*CheckLimitResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func startBufconnServer(t *testing.T, impl LimitAdvisorServer) (*bufconn.Listener, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	RegisterLimitAdvisorServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	return lis, srv.Stop
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithBlock(),
	)
	require.NoError(t, err)
	return conn
}

func TestLimitAdvisorClient_CheckLimit_RoundTrip(t *testing.T) {
	lis, stop := startBufconnServer(t, &fakeServer{resp: &CheckLimitResponse{
		Approved:            true,
		AvailableMinorUnits: 500000,
	}})
	defer stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	client := NewLimitAdvisorClient(conn)
	resp, err := client.CheckLimit(context.Background(), &CheckLimitRequest{
		CustomerID:       "cust-1",
		Type:             "WITHDRAWAL",
		AmountMinorUnits: 10000,
		Currency:         "USD",
	})
	require.NoError(t, err)
	require.True(t, resp.Approved)
	require.Equal(t, int64(500000), resp.AvailableMinorUnits)
}

func TestAdapter_CheckExternalLimit_Declined(t *testing.T) {
	lis, stop := startBufconnServer(t, &fakeServer{resp: &CheckLimitResponse{
		Approved:   false,
		ReasonCode: "CORE_DAILY_CAP",
	}})
	defer stop()

	conn := dialBufconn(t, lis)
	defer conn.Close()

	adapter := &Adapter{
		conn:   conn,
		client: NewLimitAdvisorClient(conn),
		cb:     newTestBreaker(),
		logger: zap.NewNop(),
	}

	resp, err := adapter.CheckExternalLimit(context.Background(), limits.ExternalLimitRequest{
		CustomerID:       "cust-1",
		Type:             "WITHDRAWAL",
		AmountMinorUnits: 10000,
		Currency:         "USD",
	})
	require.NoError(t, err)
	require.False(t, resp.Approved)
	require.Equal(t, "CORE_DAILY_CAP", resp.ReasonCode)
}
