package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
	"github.com/banshee-data/lapsim/internal/testutil"
	"github.com/banshee-data/lapsim/internal/track"
)

func init() { monitoring.SetLogger(nil) }

func newTestClient(t *testing.T) (*Client, *runner.Runner) {
	t.Helper()
	cfg := testutil.Config(t, func(c *config.Config) {
		c.Simulation.TotalLaps = 1
		c.Policy.Buckets = 6
		c.GA.PopulationSize = 4
		c.GA.Generations = 3
		c.GA.Workers = 2
	})
	r := runner.New(cfg, track.Loop(600, 80))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterService(srv, NewServer(r))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), r
}

func TestConfig(t *testing.T) {
	c, r := newTestClient(t)
	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.Base(), cfg)
}

func TestSimulateMatchesInProcess(t *testing.T) {
	c, r := newTestClient(t)
	p := policy.New([]float64{1, 0.5, 0.2, -0.1, 0.6, 1}, r.Base().Policy)
	req := runner.Request{Policy: &p}

	var frames []sim.Frame
	remote, err := c.Simulate(context.Background(), req, func(f sim.Frame) { frames = append(frames, f) })
	require.NoError(t, err)

	local, err := r.Simulate(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, local.Result.Telemetry, frames)
	local.Result.Telemetry = nil
	assert.Equal(t, local.Result, remote.Result)
	assert.Equal(t, local.Score, remote.Score)
}

func TestOptimizeStreamsGenerations(t *testing.T) {
	c, _ := newTestClient(t)

	var gens []optimizer.Summary
	out, err := c.Optimize(context.Background(), runner.Request{}, func(s optimizer.Summary) { gens = append(gens, s) })
	require.NoError(t, err)
	require.Len(t, gens, 3)
	assert.Equal(t, gens, out.Outcome.History)
	assert.Equal(t, optimizer.StatusExhausted, out.Outcome.Status)
	require.NoError(t, out.Outcome.Best.Policy.Validate())
}

func TestInvalidRequest(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Simulate(context.Background(), runner.Request{Config: config.File{StopsPerLap: ptrInt(-2)}}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Optimize(context.Background(), runner.Request{Track: []track.Coordinate{{}}}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCancelledStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	n := 0
	_, err := c.Simulate(ctx, runner.Request{}, func(sim.Frame) {
		n++
		if n == 10 {
			cancel()
		}
	})
	require.Error(t, err)
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestStructRoundTrip(t *testing.T) {
	p := policy.New([]float64{0.1, -0.30000000000000004, 1e-17, -1}, config.Defaults().Policy)
	msg, err := toStruct(Event{Optimization: &runner.OptimizeResult{Outcome: optimizer.Outcome{
		Best: optimizer.Individual{Policy: p, Fitness: -12.345678901234567},
	}}})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, fromStruct(msg, &ev))
	require.NotNil(t, ev.Optimization)
	assert.Equal(t, p, ev.Optimization.Outcome.Best.Policy)
	assert.Equal(t, -12.345678901234567, ev.Optimization.Outcome.Best.Fitness)
}

func ptrInt(v int) *int { return &v }
