package policy

import (
	"math"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/physics"
	"github.com/banshee-data/lapsim/internal/track"
)

// Observation is what a controller sees before each step.
type Observation struct {
	State        physics.State
	LapDistanceM float64
	// StopAheadM is the signed distance to the next unserved stop; negative
	// once the vehicle has passed it. +Inf when there is nothing to serve.
	StopAheadM float64
	Holding    bool // dwelling at a served stop
}

// Controller maps an observation to a command.
type Controller interface {
	Command(obs Observation) physics.Command
}

// ControllerFunc adapts a function to Controller.
type ControllerFunc func(obs Observation) physics.Command

// Command calls f(obs).
func (f ControllerFunc) Command(obs Observation) physics.Command { return f(obs) }

// Gain used for proportional braking, in newtons per m/s over the limit.
const brakeGainNPerMPS = 45.0

// GenomeController reads throttle and brake from a Policy.
type GenomeController struct {
	policy    Policy
	lapLength float64
	horizonS  float64
	launchMPS float64
}

// NewGenomeController builds a controller for p. horizonS spans the genome
// in time mode and is ignored in distance mode.
func NewGenomeController(p Policy, lapLength, horizonS, launchMPS float64) *GenomeController {
	return &GenomeController{policy: p, lapLength: lapLength, horizonS: horizonS, launchMPS: launchMPS}
}

// Command implements Controller.
func (c *GenomeController) Command(obs Observation) physics.Command {
	if obs.State.SpeedMPS < c.launchMPS {
		return physics.Command{Throttle: 1}
	}

	var x float64
	if c.policy.Mode == config.ControlTime {
		if c.horizonS > 0 {
			x = obs.State.ElapsedS / c.horizonS
		}
	} else if c.lapLength > 0 {
		x = obs.LapDistanceM / c.lapLength
	}
	return GeneCommand(c.policy.Value(x))
}

// GeneCommand converts a gene value into a command.
func GeneCommand(g float64) physics.Command {
	g = ClampGene(g)
	if g > 0 {
		return physics.Command{Throttle: g}
	}
	if g < 0 {
		return physics.Command{Brake: -g}
	}
	return physics.Command{}
}

// TimeHorizon returns the span covered by a time-mode genome: the
// configured horizon, or the time to finish every lap at the lower target
// speed plus every stop hold.
func TimeHorizon(cfg config.Config, lapLength float64) float64 {
	if cfg.Policy.TimeHorizonS > 0 {
		return cfg.Policy.TimeHorizonS
	}
	laps := float64(cfg.Simulation.TotalLaps)
	drive := laps * lapLength / (cfg.Targets.LowerKmh / 3.6)
	hold := laps * float64(cfg.Simulation.StopsPerLap) * cfg.Simulation.StopHoldS
	return drive + hold
}

// BaselineController is the fixed rule used without a genome: full
// throttle below the target band, coast inside it and proportional brake
// above it. With a safe corner speed set it also brakes ahead of corners.
type BaselineController struct {
	lowerMPS  float64
	upperMPS  float64
	cornerMPS float64
	launchMPS float64
	maxBrakeN float64
	track     *track.Track
}

// NewBaselineController builds the baseline rule for cfg. tr may be nil,
// which disables corner braking.
func NewBaselineController(cfg config.Config, tr *track.Track) *BaselineController {
	return &BaselineController{
		lowerMPS:  cfg.Targets.LowerKmh / 3.6,
		upperMPS:  cfg.Targets.UpperKmh / 3.6,
		cornerMPS: cfg.Vehicle.SafeCornerSpeedKmh / 3.6,
		launchMPS: cfg.Vehicle.LaunchSpeedMPS,
		maxBrakeN: cfg.Vehicle.MaxBrakeForceN,
		track:     tr,
	}
}

// Command implements Controller.
func (c *BaselineController) Command(obs Observation) physics.Command {
	v := obs.State.SpeedMPS
	if v < c.launchMPS {
		return physics.Command{Throttle: 1}
	}

	if c.cornerMPS > 0 && c.track != nil {
		lookahead := 50 * math.Max(0.8, math.Min(3, v/25))
		limit := 0.9 * c.cornerMPS
		if c.track.IsCorner(obs.State.DistanceM+lookahead) && v > limit {
			return physics.Command{Brake: (v - limit) * brakeGainNPerMPS / c.maxBrakeN}
		}
	}

	switch {
	case v < c.lowerMPS:
		return physics.Command{Throttle: 1}
	case v > c.upperMPS:
		return physics.Command{Brake: (v - c.upperMPS) * brakeGainNPerMPS / c.maxBrakeN}
	}
	return physics.Command{}
}

// ForGenome builds the genome controller for p on tr using the launch
// speed and time horizon from cfg.
func ForGenome(p Policy, cfg config.Config, tr *track.Track) *GenomeController {
	lap := tr.LapLength()
	return NewGenomeController(p, lap, TimeHorizon(cfg, lap), cfg.Vehicle.LaunchSpeedMPS)
}
