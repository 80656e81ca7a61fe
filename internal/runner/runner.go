// Package runner resolves simulation and optimization requests into
// engine and optimizer runs, and records finished runs in the history
// store. The HTTP API, the RPC service and the CLI all go through it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/fitness"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/sim"
	"github.com/banshee-data/lapsim/internal/track"
)

var logf = monitoring.Component("runner")

// ErrInvalidRequest wraps every request that fails before a run starts.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes one simulation or optimization.
type Request struct {
	// Config overlays the runner's base configuration.
	Config config.File `json:"config"`
	// Track replaces the runner's course when it has at least one point.
	Track []track.Coordinate `json:"track,omitempty"`
	// Policy drives a simulation. Nil uses the baseline controller.
	// Optimizations ignore it.
	Policy *policy.Policy `json:"policy,omitempty"`
	Name   string         `json:"name,omitempty"`
}

// SimulateResult is a finished simulation.
type SimulateResult struct {
	RunID  string            `json:"run_id,omitempty"`
	Result sim.Result        `json:"result"`
	Score  fitness.Breakdown `json:"score"`
}

// OptimizeResult is a finished optimization. Result is the best policy
// re-run at the simulation time step and Score is computed from Result.
// Outcome.Best.Fitness is the GA's score at the GA time step, so the two
// can differ.
type OptimizeResult struct {
	RunID   string            `json:"run_id,omitempty"`
	Outcome optimizer.Outcome `json:"outcome"`
	Score   fitness.Breakdown `json:"score"`
	Result  sim.Result        `json:"result"`
}

// Active describes an optimization in progress.
type Active struct {
	RunID string          `json:"run_id"`
	Name  string          `json:"name,omitempty"`
	State optimizer.State `json:"state"`
}

// Runner is safe for concurrent use.
type Runner struct {
	base    config.Config
	course  []track.Coordinate
	store   *db.DB
	metrics *optimizer.Metrics

	mu     sync.RWMutex
	active map[string]activeRun
}

type activeRun struct {
	name string
	opt  *optimizer.Optimizer
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records finished runs in store.
func WithStore(store *db.DB) Option {
	return func(r *Runner) { r.store = store }
}

// WithMetrics passes m to every optimizer.
func WithMetrics(m *optimizer.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New returns a runner over base and course. course is used whenever a
// request carries no track of its own.
func New(base config.Config, course []track.Coordinate, opts ...Option) *Runner {
	r := &Runner{
		base:   base,
		course: append([]track.Coordinate(nil), course...),
		active: make(map[string]activeRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Base returns the configuration requests are applied on top of.
func (r *Runner) Base() config.Config { return r.base }

// Prepare resolves a request into a validated config and a built track.
func (r *Runner) Prepare(req Request) (config.Config, *track.Track, error) {
	cfg, err := config.Override(r.base, req.Config)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	course := r.course
	if len(req.Track) > 0 {
		course = req.Track
	}
	tr, err := track.Build(course, cfg.Simulation.StopsPerLap)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return config.Config{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return cfg, tr, nil
}

// Simulate runs one simulation. Frames go to sink as they are produced;
// sink may be nil. The run is recorded when the runner has a store.
func (r *Runner) Simulate(ctx context.Context, req Request, sink sim.Sink) (SimulateResult, error) {
	cfg, tr, err := r.Prepare(req)
	if err != nil {
		return SimulateResult{}, err
	}

	var ctrl policy.Controller = policy.NewBaselineController(cfg, tr)
	if req.Policy != nil {
		ctrl = policy.ForGenome(*req.Policy, cfg, tr)
	}
	res := sim.New(cfg, tr, ctrl).Run(ctx, sink)
	out := SimulateResult{
		Result: res,
		Score:  fitness.Score(res, cfg.Targets, cfg.Objective),
	}
	logf("simulation finished: %s after %d steps, %.2f km/h, %.4f kWh",
		res.Reason, res.Steps, res.AverageSpeedKmh, res.TotalEnergyKWh)

	if r.store == nil {
		return out, nil
	}
	fit := out.Score.Fitness
	run := &db.Run{
		Kind:             db.KindSimulation,
		Name:             req.Name,
		TrackFingerprint: tr.Fingerprint(),
		Config:           cfg,
		Summary:          res,
		Fitness:          &fit,
		Policy:           req.Policy,
	}
	// Recording uses a fresh context so a cancelled run is still kept.
	if err := r.store.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		return out, fmt.Errorf("record simulation: %w", err)
	}
	out.RunID = run.ID
	return out, nil
}

// Optimize runs the genetic optimizer. progress, if not nil, sees every
// generation summary as it completes.
func (r *Runner) Optimize(ctx context.Context, req Request, progress func(optimizer.Summary)) (OptimizeResult, error) {
	cfg, tr, err := r.Prepare(req)
	if err != nil {
		return OptimizeResult{}, err
	}

	eval := fitness.NewEvaluator(cfg, tr)
	opt := optimizer.New(cfg, eval, optimizer.WithMetrics(r.metrics))
	id := uuid.NewString()
	r.track(id, activeRun{name: req.Name, opt: opt})
	defer r.untrack(id)

	logf("optimization %s started: population %d, %d generations, seed %d",
		id, cfg.GA.PopulationSize, cfg.GA.Generations, cfg.GA.Seed)

	var out OptimizeResult
	for s := range opt.Generations(ctx) {
		if s.Generation == 0 {
			out.Outcome.InitialBestFitness = s.BestFitness
		}
		out.Outcome.History = append(out.Outcome.History, s)
		if progress != nil {
			progress(s)
		}
	}
	st := opt.State()
	out.Outcome.Status = st.Status
	out.Outcome.Evaluations = st.Evaluations
	if st.Best == nil {
		logf("optimization %s ended with status %s before any evaluation", id, st.Status)
		return out, fmt.Errorf("optimization %s: no individual evaluated (%s)", id, st.Status)
	}
	out.Outcome.Best = *st.Best

	best := out.Outcome.Best.Policy
	recordCtx := context.WithoutCancel(ctx)
	out.Result = sim.New(cfg, tr, policy.ForGenome(best, cfg, tr), sim.WithoutTelemetry()).Run(recordCtx, nil)
	out.Score = fitness.Score(out.Result, cfg.Targets, cfg.Objective)
	logf("optimization %s finished: %s, best fitness %.4f after %d evaluations",
		id, st.Status, out.Outcome.Best.Fitness, st.Evaluations)

	if r.store == nil {
		return out, nil
	}
	fit := out.Score.Fitness
	run := &db.Run{
		ID:               id,
		Kind:             db.KindOptimization,
		Name:             req.Name,
		TrackFingerprint: tr.Fingerprint(),
		Config:           cfg,
		Summary:          out.Result,
		Fitness:          &fit,
		Policy:           &best,
	}
	if err := r.store.InsertRun(recordCtx, run); err != nil {
		return out, fmt.Errorf("record optimization: %w", err)
	}
	if err := r.store.InsertGenerations(recordCtx, id, out.Outcome.History); err != nil {
		return out, fmt.Errorf("record optimization history: %w", err)
	}
	out.RunID = id
	return out, nil
}

func (r *Runner) track(id string, a activeRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = a
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Active lists optimizations in progress ordered by run ID.
func (r *Runner) Active() []Active {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Active, 0, len(r.active))
	for id, a := range r.active {
		out = append(out, Active{RunID: id, Name: a.name, State: a.opt.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}
