package grpcadvisor

import (
	"context"

	"google.golang.org/grpc"
)

// CheckLimitRequest/CheckLimitResponse are the wire messages for the
// LimitAdvisor service, JSON-tagged instead of protoc-generated.
type CheckLimitRequest struct {
	CustomerID       string `json:"customerId"`
	Type             string `json:"type"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
}

type CheckLimitResponse struct {
	Approved            bool   `json:"approved"`
	ReasonCode          string `json:"reasonCode"`
	AvailableMinorUnits int64  `json:"availableMinorUnits"`
}

// serviceName matches the fully-qualified name a .proto file would declare;
// kept identical in shape to what protoc-gen-go-grpc would emit so a real
// generated client/server could swap in later without changing callers.
const serviceName = "fep.limits.v1.LimitAdvisor"

// LimitAdvisorServer is the service contract's server side.
type LimitAdvisorServer interface {
	CheckLimit(ctx context.Context, req *CheckLimitRequest) (*CheckLimitResponse, error)
}

func _LimitAdvisor_CheckLimit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckLimitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LimitAdvisorServer).CheckLimit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CheckLimit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LimitAdvisorServer).CheckLimit(ctx, req.(*CheckLimitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate into a _grpc.pb.go file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LimitAdvisorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckLimit",
			Handler:    _LimitAdvisor_CheckLimit_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fep/limits/v1/limit_advisor.proto",
}

// RegisterLimitAdvisorServer wires an implementation into a gRPC server.
func RegisterLimitAdvisorServer(s grpc.ServiceRegistrar, srv LimitAdvisorServer) {
	s.RegisterService(&ServiceDesc, srv)
}
