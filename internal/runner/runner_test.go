package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/fitness"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/sim"
	"github.com/banshee-data/lapsim/internal/testutil"
	"github.com/banshee-data/lapsim/internal/track"
)

func init() { monitoring.SetLogger(nil) }

func ptr[T any](v T) *T { return &v }

func newRunner(t *testing.T, withStore bool) (*Runner, *db.DB) {
	t.Helper()
	cfg := testutil.Config(t, func(c *config.Config) {
		c.Simulation.TotalLaps = 1
		c.Policy.Buckets = 6
		c.GA.PopulationSize = 6
		c.GA.Generations = 3
		c.GA.Workers = 2
	})
	opts := []Option{WithMetrics(nil)}
	var store *db.DB
	if withStore {
		var err error
		store, err = db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		opts = append(opts, WithStore(store))
	}
	return New(cfg, track.Loop(800, 100), opts...), store
}

func TestSimulateRecordsRun(t *testing.T) {
	r, store := newRunner(t, true)

	var frames int
	out, err := r.Simulate(context.Background(), Request{Name: "baseline"}, func(sim.Frame) { frames++ })
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)
	assert.Equal(t, sim.Completed, out.Result.Reason)
	assert.Equal(t, out.Result.Steps, frames)
	assert.Len(t, out.Result.Telemetry, frames)
	assert.LessOrEqual(t, out.Score.Fitness, 0.0)

	got, err := store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.KindSimulation, got.Kind)
	assert.Equal(t, "baseline", got.Name)
	assert.Equal(t, out.Result.Steps, got.Summary.Steps)
	assert.Nil(t, got.Policy)
	require.NotNil(t, got.Fitness)
	assert.Equal(t, out.Score.Fitness, *got.Fitness)
}

func TestSimulateWithPolicyAndOverride(t *testing.T) {
	r, _ := newRunner(t, false)
	p := policy.New([]float64{1, 0.8, 0.5, 0.5, 0.8, 1}, r.Base().Policy)

	out, err := r.Simulate(context.Background(), Request{
		Config: config.File{TotalLaps: ptr(2)},
		Policy: &p,
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.RunID)
	assert.Equal(t, sim.Completed, out.Result.Reason)
	assert.Equal(t, 2, out.Result.LapsCompleted)
	assert.Equal(t, 2, out.Result.StopsServed)
}

func TestPrepareRejects(t *testing.T) {
	r, _ := newRunner(t, false)

	tests := []struct {
		name   string
		req    Request
		target interface{}
	}{
		{"config", Request{Config: config.File{TotalLaps: ptr(0)}}, new(*config.ConfigError)},
		{"track", Request{Track: []track.Coordinate{{Latitude: 1, Longitude: 1}}}, new(*track.InvalidTrackError)},
		{"policy", Request{Policy: &policy.Policy{Genes: []float64{2}, Mode: config.ControlDistance, Interpolation: config.InterpolateLinear}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Simulate(context.Background(), tt.req, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			if tt.target != nil {
				assert.True(t, errors.As(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestOptimizeRecordsHistory(t *testing.T) {
	r, store := newRunner(t, true)

	var seen []optimizer.Summary
	out, err := r.Optimize(context.Background(), Request{Name: "ga"}, func(s optimizer.Summary) {
		seen = append(seen, s)
		assert.Len(t, r.Active(), 1)
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)
	assert.Empty(t, r.Active())

	require.Len(t, out.Outcome.History, 3)
	assert.Equal(t, out.Outcome.History, seen)
	assert.Equal(t, optimizer.StatusExhausted, out.Outcome.Status)
	assert.GreaterOrEqual(t, out.Outcome.Best.Fitness, out.Outcome.InitialBestFitness)
	cfg := r.Base()
	assert.Equal(t, fitness.Score(out.Result, cfg.Targets, cfg.Objective), out.Score)
	assert.Empty(t, out.Result.Telemetry)

	got, err := store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.KindOptimization, got.Kind)
	require.NotNil(t, got.Fitness)
	assert.Equal(t, out.Score.Fitness, *got.Fitness, "stored fitness scores the stored summary")
	assert.Equal(t, out.Result.Steps, got.Summary.Steps)
	require.NotNil(t, got.Policy)
	assert.Equal(t, out.Outcome.Best.Policy.Genes, got.Policy.Genes)

	hist, err := store.Generations(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, out.Outcome.History, hist)
}

func TestOptimizeCancelledBeforeStart(t *testing.T) {
	r, _ := newRunner(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Optimize(ctx, Request{}, nil)
	require.Error(t, err)
	assert.Empty(t, r.Active())
}
