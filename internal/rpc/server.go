package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
)

var logf = monitoring.Component("rpc")

// Ensure Server implements the gRPC interface.
var _ LapsimServer = (*Server)(nil)

// Server implements the Lapsim gRPC service on top of a Runner.
type Server struct {
	runner *runner.Runner
}

// NewServer creates a new gRPC server.
func NewServer(r *runner.Runner) *Server {
	return &Server{runner: r}
}

// RegisterService registers the gRPC service with the server.
func RegisterService(grpcServer *grpc.Server, server *Server) {
	RegisterLapsimServer(grpcServer, server)
}

// Config returns the base configuration requests are applied to.
func (s *Server) Config(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	msg, err := toStruct(s.runner.Base())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// Simulate streams every telemetry frame followed by the result.
func (s *Server) Simulate(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := s.decode(in)
	if err != nil {
		return err
	}
	logf("Simulate started: name=%q", req.Name)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	var sendErr error
	out, err := s.runner.Simulate(ctx, req, func(f sim.Frame) {
		if sendErr != nil {
			return
		}
		if sendErr = send(stream, Event{Frame: &f}); sendErr != nil {
			logf("Send error: %v", sendErr)
			cancel()
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return toStatus(err)
	}
	if stream.Context().Err() != nil {
		return status.FromContextError(stream.Context().Err()).Err()
	}
	out.Result.Telemetry = nil
	return send(stream, Event{Simulation: &out})
}

// Optimize streams each generation summary followed by the result.
func (s *Server) Optimize(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := s.decode(in)
	if err != nil {
		return err
	}
	logf("Optimize started: name=%q", req.Name)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	var sendErr error
	out, err := s.runner.Optimize(ctx, req, func(sum optimizer.Summary) {
		if sendErr != nil {
			return
		}
		if sendErr = send(stream, Event{Generation: &sum}); sendErr != nil {
			logf("Send error: %v", sendErr)
			cancel()
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return toStatus(err)
	}
	if out.Outcome.Status == optimizer.StatusCancelled && stream.Context().Err() != nil {
		return status.FromContextError(stream.Context().Err()).Err()
	}
	return send(stream, Event{Optimization: &out})
}

func (s *Server) decode(in *structpb.Struct) (runner.Request, error) {
	var req runner.Request
	if err := fromStruct(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, _, err := s.runner.Prepare(req); err != nil {
		return req, toStatus(err)
	}
	return req, nil
}

func send(stream grpc.ServerStreamingServer[structpb.Struct], ev Event) error {
	msg, err := toStruct(ev)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
