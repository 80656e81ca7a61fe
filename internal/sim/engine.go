// Package sim runs a vehicle around a track under a controller with a fixed
// time step and reduces the run to a Result.
//
// A run ends when the configured laps are complete, when the step ceiling
// is hit, or when its context is cancelled. Stop violations and numerical
// trouble are recorded on the Result and never abort the run.
package sim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/physics"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/track"
	"github.com/banshee-data/lapsim/internal/units"
)

// Reason says why a run ended.
type Reason string

const (
	Completed Reason = "Completed"
	TimedOut  Reason = "TimedOut"
	Cancelled Reason = "Cancelled"
)

// Frame is one telemetry sample, taken after each step.
type Frame struct {
	TimeS     float64             `json:"time_s"`
	DistanceM float64             `json:"distance_m"`
	SpeedMPS  float64             `json:"speed_mps"`
	PowerW    float64             `json:"power_w"`
	EnergyJ   float64             `json:"energy_j"`
	Motion    physics.MotionState `json:"motion_state"`
	LapIndex  int                 `json:"lap_index"`
}

// Sink receives every frame as it is produced.
type Sink func(Frame)

// Result summarises a finished run.
type Result struct {
	Telemetry       []Frame  `json:"telemetry,omitempty"`
	AverageSpeedKmh float64  `json:"average_speed_kmh"`
	TotalEnergyKWh  float64  `json:"total_energy_kwh"`
	TotalTimeS      float64  `json:"total_time_s"`
	TotalDistanceM  float64  `json:"total_distance_m"`
	LapsCompleted   int      `json:"laps_completed"`
	Reason          Reason   `json:"terminated_reason"`
	StopsServed     int      `json:"stops_served"`
	StopViolations  int      `json:"stop_violations"`
	Steps           int      `json:"steps"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithoutTelemetry drops frames from the Result. A sink still sees them.
func WithoutTelemetry() Option {
	return func(e *Engine) { e.keepTelemetry = false }
}

// Engine holds everything a run needs. It is not safe for concurrent Run
// calls, but a Track and Config may be shared by many engines.
type Engine struct {
	cfg           config.Config
	track         *track.Track
	params        physics.Params
	controller    policy.Controller
	dt            float64
	ceiling       int
	targets       []float64 // absolute stop distances over every lap
	keepTelemetry bool
}

// New returns an engine that drives ctrl around tr. Approaches to stops are
// always handled by a policy.StopGuard wrapped around ctrl.
func New(cfg config.Config, tr *track.Track, ctrl policy.Controller, opts ...Option) *Engine {
	p := physics.NewParams(cfg.Vehicle)
	dt := cfg.Simulation.TimeStepS
	e := &Engine{
		cfg:           cfg,
		track:         tr,
		params:        p,
		controller:    policy.NewStopGuard(ctrl, p, dt, cfg.Simulation.StopToleranceM),
		dt:            dt,
		ceiling:       cfg.StepCeiling(dt),
		keepTelemetry: true,
	}
	lap := tr.LapLength()
	for l := 0; l < cfg.Simulation.TotalLaps; l++ {
		for _, s := range tr.Stops() {
			e.targets = append(e.targets, float64(l)*lap+s)
		}
	}
	sort.Float64s(e.targets)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run steps the vehicle until the run ends. sink may be nil.
func (e *Engine) Run(ctx context.Context, sink Sink) Result {
	var (
		res      Result
		s        physics.State
		warn     warnings
		next     int
		holdLeft float64
		holding  bool
	)
	lap := e.track.LapLength()
	finish := float64(e.cfg.Simulation.TotalLaps) * lap
	tol := e.cfg.Simulation.StopToleranceM
	if e.keepTelemetry {
		res.Telemetry = make([]Frame, 0, e.telemetryHint(finish))
	}

	for {
		if ctx.Err() != nil {
			res.Reason = Cancelled
			break
		}
		if res.Steps >= e.ceiling {
			res.Reason = TimedOut
			break
		}

		obs := policy.Observation{
			State:        s,
			LapDistanceM: e.track.LapDistance(s.DistanceM),
			StopAheadM:   math.Inf(1),
			Holding:      holding,
		}
		if next < len(e.targets) {
			obs.StopAheadM = e.targets[next] - s.DistanceM
		}

		prev := s
		s = physics.Step(s, e.controller.Command(obs), e.dt, e.params)
		s = sanitize(prev, s, res.Steps, &warn)
		res.Steps++

		switch {
		case holding:
			holdLeft -= e.dt
			if holdLeft <= 1e-9 {
				holding = false
				next++
			}
		case next < len(e.targets):
			d := e.targets[next] - s.DistanceM
			if s.SpeedMPS == 0 && math.Abs(d) <= tol {
				res.StopsServed++
				if e.cfg.Simulation.StopHoldS > 0 {
					holding, holdLeft = true, e.cfg.Simulation.StopHoldS
				} else {
					next++
				}
			}
			for next < len(e.targets) && !holding && s.DistanceM > e.targets[next]+tol {
				res.StopViolations++
				next++
			}
		}

		s.LapIndex = int(s.DistanceM / lap)
		f := Frame{
			TimeS:     s.ElapsedS,
			DistanceM: s.DistanceM,
			SpeedMPS:  s.SpeedMPS,
			PowerW:    s.PowerW,
			EnergyJ:   s.EnergyJ,
			Motion:    s.Motion,
			LapIndex:  s.LapIndex,
		}
		if e.keepTelemetry {
			res.Telemetry = append(res.Telemetry, f)
		}
		if sink != nil {
			sink(f)
		}

		if s.DistanceM >= finish {
			res.Reason = Completed
			break
		}
	}

	res.TotalTimeS = s.ElapsedS
	res.TotalDistanceM = s.DistanceM
	res.LapsCompleted = min(int(s.DistanceM/lap), e.cfg.Simulation.TotalLaps)
	if s.ElapsedS > 0 {
		res.AverageSpeedKmh = units.MPSToKmh(s.DistanceM / s.ElapsedS)
	}
	res.TotalEnergyKWh = units.JoulesToKWh(s.EnergyJ)
	res.Warnings = warn.list()
	return res
}

// telemetryHint estimates the frame count for a run at the lower target speed.
func (e *Engine) telemetryHint(finish float64) int {
	v := e.cfg.Targets.LowerKmh / 3.6
	n := int(finish/v/e.dt) + 1
	return min(max(n, 16), e.ceiling, 1<<20)
}

// sanitize repairs a diverged step. Non-finite values fall back to the
// previous state, and energy is never allowed to go negative or decrease.
func sanitize(prev, s physics.State, step int, w *warnings) physics.State {
	bad := func(x float64) bool { return math.IsNaN(x) || math.IsInf(x, 0) }
	if bad(s.SpeedMPS) || s.SpeedMPS < 0 {
		w.add(step, "speed diverged; reset to previous value")
		s.SpeedMPS = prev.SpeedMPS
	}
	if bad(s.DistanceM) || s.DistanceM < prev.DistanceM {
		w.add(step, "distance diverged; held at previous value")
		s.DistanceM = prev.DistanceM
	}
	if bad(s.PowerW) || s.PowerW < 0 {
		w.add(step, "power diverged; clamped to zero")
		s.PowerW = 0
	}
	if bad(s.EnergyJ) || s.EnergyJ < 0 || s.EnergyJ < prev.EnergyJ {
		w.add(step, "energy diverged; held at previous value")
		s.EnergyJ = prev.EnergyJ
	}
	return s
}

// warnings keeps the first occurrence of each message and a count.
type warnings struct {
	order []string
	first map[string]int
	count map[string]int
}

func (w *warnings) add(step int, msg string) {
	if w.first == nil {
		w.first = make(map[string]int)
		w.count = make(map[string]int)
	}
	if _, ok := w.first[msg]; !ok {
		w.first[msg] = step
		w.order = append(w.order, msg)
	}
	w.count[msg]++
}

func (w *warnings) list() []string {
	if len(w.order) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.order))
	for _, msg := range w.order {
		out = append(out, fmt.Sprintf("step %d: %s (%d occurrences)", w.first[msg], msg, w.count[msg]))
	}
	return out
}
