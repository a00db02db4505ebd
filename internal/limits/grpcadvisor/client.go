package grpcadvisor

import (
	"context"

	"google.golang.org/grpc"
)

// LimitAdvisorClient is the service contract's client side.
type LimitAdvisorClient interface {
	CheckLimit(ctx context.Context, req *CheckLimitRequest, opts ...grpc.CallOption) (*CheckLimitResponse, error)
}

type limitAdvisorClient struct {
	cc grpc.ClientConnInterface
}

// NewLimitAdvisorClient wraps an established connection with the
// CheckLimit stub, forcing the json codec registered in codec.go.
func NewLimitAdvisorClient(cc grpc.ClientConnInterface) LimitAdvisorClient {
	return &limitAdvisorClient{cc: cc}
}

func (c *limitAdvisorClient) CheckLimit(ctx context.Context, req *CheckLimitRequest, opts ...grpc.CallOption) (*CheckLimitResponse, error) {
	out := new(CheckLimitResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CheckLimit", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
