package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
)

// Client calls a Lapsim service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Config fetches the server's base configuration.
func (c *Client) Config(ctx context.Context, opts ...grpc.CallOption) (config.Config, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, configMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	err := fromStruct(out, &cfg)
	return cfg, err
}

// Simulate runs a simulation remotely. onFrame, if not nil, sees each frame.
func (c *Client) Simulate(ctx context.Context, req runner.Request, onFrame func(sim.Frame), opts ...grpc.CallOption) (runner.SimulateResult, error) {
	var out *runner.SimulateResult
	err := c.stream(ctx, 0, simulateMethod, req, func(ev Event) {
		switch {
		case ev.Frame != nil && onFrame != nil:
			onFrame(*ev.Frame)
		case ev.Simulation != nil:
			out = ev.Simulation
		}
	}, opts...)
	if err != nil {
		return runner.SimulateResult{}, err
	}
	if out == nil {
		return runner.SimulateResult{}, errors.New("simulate: stream ended without a result")
	}
	return *out, nil
}

// Optimize runs an optimization remotely. onGeneration, if not nil, sees
// each generation summary.
func (c *Client) Optimize(ctx context.Context, req runner.Request, onGeneration func(optimizer.Summary), opts ...grpc.CallOption) (runner.OptimizeResult, error) {
	var out *runner.OptimizeResult
	err := c.stream(ctx, 1, optimizeMethod, req, func(ev Event) {
		switch {
		case ev.Generation != nil && onGeneration != nil:
			onGeneration(*ev.Generation)
		case ev.Optimization != nil:
			out = ev.Optimization
		}
	}, opts...)
	if err != nil {
		return runner.OptimizeResult{}, err
	}
	if out == nil {
		return runner.OptimizeResult{}, errors.New("optimize: stream ended without a result")
	}
	return *out, nil
}

func (c *Client) stream(ctx context.Context, desc int, method string, req runner.Request, handle func(Event), opts ...grpc.CallOption) error {
	msg, err := toStruct(req)
	if err != nil {
		return err
	}
	cs, err := c.cc.NewStream(ctx, &serviceDesc.Streams[desc], method, opts...)
	if err != nil {
		return err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := x.SendMsg(msg); err != nil {
		return err
	}
	if err := x.CloseSend(); err != nil {
		return err
	}
	for {
		m, err := x.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var ev Event
		if err := fromStruct(m, &ev); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		handle(ev)
		// Messages may already be buffered when ctx is cancelled.
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
	}
}
