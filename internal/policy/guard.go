package policy

import (
	"math"

	"github.com/banshee-data/lapsim/internal/physics"
)

// planFraction is the share of full-brake deceleration the approach
// envelope plans with. At one half, a vehicle on the envelope can always
// reach the next step's envelope speed even with large time steps.
const planFraction = 0.5

// creepSpeedMPS is the speed below which the guard adds throttle so a
// vehicle that stopped short of a stop still reaches it.
const creepSpeedMPS = 1.0

// StopGuard wraps a controller and takes over near stops.
//
// The allowed speed at distance d before a stop is
//
//	v_allow(d) = min(sqrt(2*a_plan*d), d/dt)
//
// The first term keeps a braking margin; the second stops a single step
// from jumping past the stop. Inside the approach zone the guard brakes
// down to v_allow and caps throttle so the next step cannot exceed it.
// Inside the stop tolerance it brakes fully and asks to hold, and while
// holding it keeps the vehicle stopped.
type StopGuard struct {
	inner     Controller
	params    physics.Params
	dt        float64
	tolerance float64
	aPlan     float64
	zone      float64
}

// NewStopGuard wraps inner for a run with time step dt.
func NewStopGuard(inner Controller, p physics.Params, dt, tolerance float64) *StopGuard {
	g := &StopGuard{
		inner:     inner,
		params:    p,
		dt:        dt,
		tolerance: tolerance,
		aPlan:     planFraction * p.MaxDecelerationMPS2(),
	}
	// Beyond this distance v_allow exceeds the top speed and the guard is inert.
	vMax := p.MaxSpeedMPS
	g.zone = math.Max(vMax*vMax/(2*g.aPlan), vMax*dt) + vMax*dt
	return g
}

// AllowedSpeed returns v_allow at distance d before the stop.
func (g *StopGuard) AllowedSpeed(d float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Min(math.Sqrt(2*g.aPlan*d), d/g.dt)
}

// Command implements Controller.
func (g *StopGuard) Command(obs Observation) physics.Command {
	if obs.Holding {
		return physics.Command{Brake: 1, Hold: true}
	}
	d := obs.StopAheadM
	if math.IsInf(d, 1) || math.IsNaN(d) || d > g.zone {
		return g.inner.Command(obs)
	}
	if d <= g.tolerance {
		return physics.Command{Brake: 1, Hold: true}
	}

	v := obs.State.SpeedMPS
	vTarget := math.Min(g.AllowedSpeed(d), g.params.MaxSpeedMPS)
	m := g.params.MassKg
	resist := g.params.ResistiveForce(v)

	if v > vTarget {
		need := (v-vTarget)/g.dt*m - resist
		if need <= 0 {
			return physics.Command{}
		}
		return physics.Command{Brake: math.Min(1, need/g.params.MaxBrakeForceN)}
	}

	// Largest throttle that cannot carry the next step past vTarget.
	limit := math.Min(1, ((vTarget-v)/g.dt*m+resist)/g.params.MaxDriveForceN)
	cmd := g.inner.Command(obs).Normalize()
	if v < creepSpeedMPS && cmd.Throttle == 0 {
		return physics.Command{Throttle: limit}
	}
	if cmd.Throttle > limit {
		cmd.Throttle = limit
	}
	return cmd
}
