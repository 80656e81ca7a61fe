// Package fitness scores a policy by running it through the simulator and
// reducing the result to a single number. Higher is better.
package fitness

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/sim"
	"github.com/banshee-data/lapsim/internal/track"
)

var logf = monitoring.Component("fitness")

// Breakdown holds each penalty term of a score. All terms are non-negative
// and Fitness is their negated sum.
type Breakdown struct {
	SpeedPenalty   float64 `json:"speed_penalty"`
	EnergyPenalty  float64 `json:"energy_penalty"`
	StopPenalty    float64 `json:"stop_penalty"`
	TimeoutPenalty float64 `json:"timeout_penalty"`
	Fitness        float64 `json:"fitness"`
}

// Score reduces a simulation result using the configured targets and weights.
func Score(res sim.Result, targets config.Targets, w config.Objective) Breakdown {
	avg := res.AverageSpeedKmh
	var b Breakdown
	if !math.IsNaN(avg) {
		clamped := math.Min(math.Max(avg, targets.LowerKmh), targets.UpperKmh)
		b.SpeedPenalty = math.Abs(avg-clamped) * w.SpeedWeight
	} else {
		b.SpeedPenalty = w.TimeoutPenalty
	}
	b.EnergyPenalty = res.TotalEnergyKWh * w.EnergyWeight
	b.StopPenalty = float64(res.StopViolations) * w.StopPenaltyWeight
	if res.Reason != sim.Completed {
		b.TimeoutPenalty = w.TimeoutPenalty
	}
	b.Fitness = -(b.SpeedPenalty + b.EnergyPenalty + b.StopPenalty + b.TimeoutPenalty)
	return b
}

// Evaluator runs genomes against a fixed track and config. It is safe for
// concurrent use; every evaluation builds its own engine.
type Evaluator struct {
	cfg   config.Config
	track *track.Track
}

// NewEvaluator returns an evaluator that simulates with the GA time step.
func NewEvaluator(cfg config.Config, tr *track.Track) *Evaluator {
	return &Evaluator{cfg: cfg.WithTimeStep(cfg.GA.TimeStepS), track: tr}
}

// Config returns the configuration evaluations run with.
func (e *Evaluator) Config() config.Config { return e.cfg }

// Evaluate returns the fitness of p.
func (e *Evaluator) Evaluate(ctx context.Context, p policy.Policy) float64 {
	b, _ := e.Explain(ctx, p)
	return b.Fitness
}

// Explain runs p and returns the scored breakdown with the run summary.
// A panic inside the run is logged and scored as a run that never finished.
func (e *Evaluator) Explain(ctx context.Context, p policy.Policy) (b Breakdown, res sim.Result) {
	defer func() {
		if r := recover(); r != nil {
			logf("evaluation panicked: %v", r)
			res = sim.Result{Reason: sim.TimedOut, Warnings: []string{fmt.Sprintf("panic: %v", r)}}
			b = Breakdown{TimeoutPenalty: e.cfg.Objective.TimeoutPenalty, Fitness: -e.cfg.Objective.TimeoutPenalty}
		}
	}()
	ctrl := policy.ForGenome(p, e.cfg, e.track)
	res = sim.New(e.cfg, e.track, ctrl, sim.WithoutTelemetry()).Run(ctx, nil)
	return Score(res, e.cfg.Targets, e.cfg.Objective), res
}
