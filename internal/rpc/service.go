// Package rpc exposes the simulator and optimizer as a gRPC service so a
// caller can run them in a separate process.
//
// Messages are google.protobuf.Struct values carrying the same JSON shapes
// as the HTTP API, so no generated code is needed. Simulate and Optimize
// are server streams of Events; Config is unary.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lapsim.v1.Lapsim"

const (
	configMethod   = "/" + ServiceName + "/Config"
	simulateMethod = "/" + ServiceName + "/Simulate"
	optimizeMethod = "/" + ServiceName + "/Optimize"
)

// Event is one message of a Simulate or Optimize stream. Exactly one
// field is set; the last message of a successful stream carries the result.
type Event struct {
	Frame        *sim.Frame             `json:"frame,omitempty"`
	Generation   *optimizer.Summary     `json:"generation,omitempty"`
	Simulation   *runner.SimulateResult `json:"simulation,omitempty"`
	Optimization *runner.OptimizeResult `json:"optimization,omitempty"`
}

// LapsimServer is the server API for the Lapsim service.
type LapsimServer interface {
	Config(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Simulate(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	Optimize(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterLapsimServer registers srv on s.
func RegisterLapsimServer(s grpc.ServiceRegistrar, srv LapsimServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LapsimServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Config", Handler: configHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Simulate", Handler: simulateHandler, ServerStreams: true},
		{StreamName: "Optimize", Handler: optimizeHandler, ServerStreams: true},
	},
	Metadata: "lapsim/v1/lapsim.proto",
}

func configHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LapsimServer).Config(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: configMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LapsimServer).Config(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func simulateHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LapsimServer).Simulate(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func optimizeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LapsimServer).Optimize(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// fromStruct decodes s into v using v's JSON schema.
func fromStruct(s *structpb.Struct, v interface{}) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
