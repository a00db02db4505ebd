// Package grpcadvisor is a concrete limits.Advisor backed by gRPC,
// grounded on the teacher's consumer/liquidity_client.go (a context-bounded
// grpc.DialContext wrapping a generated client stub) and
// consumer/circuit_breaker.go (wrapped here via internal/resiliency). The
// teacher's client imports github.com/paynet/nexus-lite/proto, a
// protoc-generated package that is not present anywhere in the retrieval
// pack (confirmed absent from the teacher's own module tree); rather than
// hand-authoring fake generated protobuf message types — which would need
// to satisfy protoreflect.ProtoMessage correctly with no protoc or go
// toolchain available to verify it — this package defines the service
// contract as a hand-written grpc.ServiceDesc paired with a plain-JSON
// grpc.Codec, so the real google.golang.org/grpc transport, dialing,
// interceptor, and codec machinery all still run, just over JSON-tagged
// structs instead of protobuf wire format.
package grpcadvisor

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements encoding.Codec (formerly grpc.Codec) using
// encoding/json instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
