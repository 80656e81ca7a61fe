// Package physics implements the longitudinal vehicle model.
//
// Step is a pure function: it takes a state, a command and a time step and
// returns the next state. Nothing here knows about tracks, laps or stops.
package physics

import (
	"fmt"
	"math"

	"github.com/banshee-data/lapsim/internal/config"
)

// MinTractionSpeedMPS floors the speed used for the power limit so that the
// drive force stays finite from standstill.
const MinTractionSpeedMPS = 1.0

// MotionState classifies what the vehicle did during the last step.
type MotionState int

const (
	Coast MotionState = iota
	Accelerate
	Brake
	Stopped
)

var motionNames = [...]string{
	Coast:      "Coast",
	Accelerate: "Accelerate",
	Brake:      "Brake",
	Stopped:    "Stopped",
}

func (m MotionState) String() string {
	if int(m) >= 0 && int(m) < len(motionNames) {
		return motionNames[m]
	}
	return "Unknown"
}

// MarshalText encodes the state by name.
func (m MotionState) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a state name.
func (m *MotionState) UnmarshalText(b []byte) error {
	for i, n := range motionNames {
		if n == string(b) {
			*m = MotionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown motion state %q", b)
}

// Params are the vehicle constants in SI units.
type Params struct {
	MassKg               float64
	FrontalAreaM2        float64
	DragCoefficient      float64
	RollingCoefficient   float64
	AirDensityKgPerM3    float64
	GravityMPS2          float64
	MaxPowerW            float64
	MaxDriveForceN       float64
	MaxBrakeForceN       float64
	DrivetrainEfficiency float64
	MaxSpeedMPS          float64
}

// NewParams converts validated vehicle config into model parameters.
func NewParams(v config.Vehicle) Params {
	return Params{
		MassKg:               v.MassKg,
		FrontalAreaM2:        v.FrontalAreaM2,
		DragCoefficient:      v.DragCoefficient,
		RollingCoefficient:   v.RollingResistanceCoefficient,
		AirDensityKgPerM3:    v.AirDensityKgPerM3,
		GravityMPS2:          v.GravityMPS2,
		MaxPowerW:            v.MotorMaxPowerW,
		MaxDriveForceN:       v.MaxDriveForceN,
		MaxBrakeForceN:       v.MaxBrakeForceN,
		DrivetrainEfficiency: v.DrivetrainEfficiency,
		MaxSpeedMPS:          v.MaxSpeedKmh / 3.6,
	}
}

// State is the vehicle state after a step.
type State struct {
	DistanceM float64     `json:"distance_m"`
	SpeedMPS  float64     `json:"speed_mps"`
	LapIndex  int         `json:"lap_index"`
	EnergyJ   float64     `json:"energy_used_j"`
	Motion    MotionState `json:"motion_state"`
	ElapsedS  float64     `json:"elapsed_time_s"`
	PowerW    float64     `json:"power_w"` // electrical power drawn during the last step
}

// Command is a controller output. Throttle and brake are fractions of the
// maximum; if both are positive the brake wins. Hold asks to stay stopped.
type Command struct {
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	Hold     bool    `json:"hold"`
}

func clamp01(x float64) float64 {
	if !(x > 0) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Normalize clamps both fractions to [0, 1] and clears the throttle when braking.
func (c Command) Normalize() Command {
	c.Throttle, c.Brake = clamp01(c.Throttle), clamp01(c.Brake)
	if c.Brake > 0 {
		c.Throttle = 0
	}
	return c
}

// DragForce returns aerodynamic drag at speed v.
func (p Params) DragForce(v float64) float64 {
	return 0.5 * p.AirDensityKgPerM3 * p.DragCoefficient * p.FrontalAreaM2 * v * v
}

// RollingForce returns the speed-independent rolling resistance.
func (p Params) RollingForce() float64 {
	return p.RollingCoefficient * p.MassKg * p.GravityMPS2
}

// ResistiveForce is drag plus rolling resistance at speed v.
func (p Params) ResistiveForce(v float64) float64 {
	return p.DragForce(v) + p.RollingForce()
}

// DriveForce returns the tractive force for a throttle fraction at speed v,
// limited by both the force cap and the available power.
func (p Params) DriveForce(throttle, v float64) float64 {
	available := p.MaxPowerW * p.DrivetrainEfficiency
	return math.Min(clamp01(throttle)*p.MaxDriveForceN, available/math.Max(v, MinTractionSpeedMPS))
}

// MaxDecelerationMPS2 is the deceleration from full brake alone.
func (p Params) MaxDecelerationMPS2() float64 {
	return p.MaxBrakeForceN / p.MassKg
}

// BrakingDistance returns the distance to stop from v under full brake,
// ignoring resistive forces.
func (p Params) BrakingDistance(v float64) float64 {
	a := p.MaxDecelerationMPS2()
	if a <= 0 {
		return math.Inf(1)
	}
	return v * v / (2 * a)
}

// Step advances s by dt under command c. The speed is kept in
// [0, MaxSpeedMPS] and the position uses the updated speed.
func Step(s State, c Command, dt float64, p Params) State {
	if !(dt > 0) {
		return s
	}
	c = c.Normalize()
	v := s.SpeedMPS

	drive := p.DriveForce(c.Throttle, v)
	brake := c.Brake * p.MaxBrakeForceN
	a := (drive - p.ResistiveForce(v) - brake) / p.MassKg

	next := v + a*dt
	if next < 0 || math.IsNaN(next) {
		next = 0
	}
	if next > p.MaxSpeedMPS {
		next = p.MaxSpeedMPS
	}

	// Work is drive force over the distance actually covered this step.
	power := drive * next / p.DrivetrainEfficiency

	out := s
	out.SpeedMPS = next
	out.DistanceM = s.DistanceM + next*dt
	out.EnergyJ = s.EnergyJ + power*dt
	out.ElapsedS = s.ElapsedS + dt
	out.PowerW = power

	switch {
	case next == 0 && c.Hold:
		out.Motion = Stopped
	case c.Throttle > 0 && next > v:
		out.Motion = Accelerate
	case c.Brake > 0:
		out.Motion = Brake
	default:
		out.Motion = Coast
	}
	return out
}
