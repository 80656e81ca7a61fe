// Package config holds the validated, immutable run configuration shared by
// the simulator and the optimizer.
//
// Values arrive as a File (pointer fields, flat JSON/YAML schema) and are
// resolved against the embedded defaults into a Config. A Config is passed by
// value and never mutated after Resolve returns it.
package config

import (
	"fmt"
	"math"
)

// Control modes for genome lookup.
const (
	ControlDistance = "distance"
	ControlTime     = "time"
)

// Interpolation modes for genome lookup.
const (
	InterpolateNearest = "nearest"
	InterpolateLinear  = "linear"
)

// Parent selection schemes.
const (
	SelectTournament = "tournament"
	SelectRoulette   = "roulette"
)

// ConfigError reports a missing or out-of-range configuration value.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// Vehicle describes the car and its drivetrain.
type Vehicle struct {
	MassKg                       float64
	FrontalAreaM2                float64
	DragCoefficient              float64
	RollingResistanceCoefficient float64
	AirDensityKgPerM3            float64
	GravityMPS2                  float64
	MotorMaxPowerW               float64
	MaxDriveForceN               float64
	MaxBrakeForceN               float64
	DrivetrainEfficiency         float64
	MaxSpeedKmh                  float64
	LaunchSpeedMPS               float64 // full throttle below this speed; must be positive
	SafeCornerSpeedKmh           float64 // baseline corner braking; 0 disables
}

// Targets is the accepted average-speed band.
type Targets struct {
	LowerKmh float64
	UpperKmh float64
}

// Simulation controls a single engine run.
type Simulation struct {
	TotalLaps      int
	StopsPerLap    int
	TimeStepS      float64
	StopToleranceM float64
	StopHoldS      float64
	MaxTimeS       float64 // simulated-time ceiling used when MaxSteps is 0
	MaxSteps       int
}

// Policy controls how a genome is laid out and read back.
type Policy struct {
	Buckets       int
	ControlMode   string
	Interpolation string
	TimeHorizonS  float64 // 0 derives the horizon from the track and target band
}

// Objective weights the fitness terms.
type Objective struct {
	SpeedWeight       float64
	EnergyWeight      float64
	StopPenaltyWeight float64
	TimeoutPenalty    float64
}

// GA configures the genetic optimizer.
type GA struct {
	Generations           int
	PopulationSize        int
	MutationRate          float64
	CrossoverRate         float64
	MutationSigma         float64
	TimeStepS             float64
	EliteCount            int
	TournamentSize        int
	Selection             string
	StagnationGenerations int // 0 disables early stop
	Workers               int // 0 uses GOMAXPROCS
	Seed                  uint64
}

// Config is the resolved configuration.
type Config struct {
	Vehicle    Vehicle
	Targets    Targets
	Simulation Simulation
	Policy     Policy
	Objective  Objective
	GA         GA
}

// MaxSpeedMPS returns the vehicle speed cap in m/s.
func (c Config) MaxSpeedMPS() float64 { return c.Vehicle.MaxSpeedKmh / 3.6 }

// StepCeiling returns the maximum number of steps a run with time step dt may take.
// It never exceeds MaxStepCeiling.
func (c Config) StepCeiling(dt float64) int {
	if c.Simulation.MaxSteps > 0 {
		return min(c.Simulation.MaxSteps, MaxStepCeiling)
	}
	n := math.Ceil(c.Simulation.MaxTimeS / dt)
	if !(n <= MaxStepCeiling) {
		return MaxStepCeiling
	}
	return int(n)
}

// MaxStepCeiling bounds the number of steps any single run may take.
const MaxStepCeiling = math.MaxInt32

// WithTimeStep returns a copy of c whose simulation step is dt.
// The optimizer uses this to evaluate genomes at the GA time step.
func (c Config) WithTimeStep(dt float64) Config {
	c.Simulation.TimeStepS = dt
	return c
}

// Validate checks every field. The first violation is returned as a *ConfigError.
func (c Config) Validate() error {
	v := c.Vehicle
	positive := []struct {
		name string
		val  float64
	}{
		{"car_mass_kg", v.MassKg},
		{"frontal_area_m2", v.FrontalAreaM2},
		{"drag_coefficient", v.DragCoefficient},
		{"air_density_kgpm3", v.AirDensityKgPerM3},
		{"gravity_mps2", v.GravityMPS2},
		{"motor_max_power_watts", v.MotorMaxPowerW},
		{"max_drive_force_n", v.MaxDriveForceN},
		{"max_brake_force_n", v.MaxBrakeForceN},
		{"max_speed_kmh", v.MaxSpeedKmh},
		{"launch_speed_mps", v.LaunchSpeedMPS},
		{"target_average_speed_lower_kmh", c.Targets.LowerKmh},
		{"target_average_speed_upper_kmh", c.Targets.UpperKmh},
		{"simulation_time_step_seconds", c.Simulation.TimeStepS},
		{"stop_tolerance_m", c.Simulation.StopToleranceM},
		{"simulation_max_time_s", c.Simulation.MaxTimeS},
		{"ga_mutation_sigma", c.GA.MutationSigma},
		{"ga_time_step_seconds", c.GA.TimeStepS},
	}
	for _, p := range positive {
		if !(p.val > 0) || math.IsInf(p.val, 0) {
			return &ConfigError{Field: p.name, Value: p.val, Reason: "must be positive and finite"}
		}
	}

	nonNegative := []struct {
		name string
		val  float64
	}{
		{"rolling_resistance_coefficient", v.RollingResistanceCoefficient},
		{"safe_corner_speed_kmh", v.SafeCornerSpeedKmh},
		{"stop_hold_seconds", c.Simulation.StopHoldS},
		{"policy_time_horizon_s", c.Policy.TimeHorizonS},
		{"speed_weight", c.Objective.SpeedWeight},
		{"energy_weight", c.Objective.EnergyWeight},
		{"stop_penalty_weight", c.Objective.StopPenaltyWeight},
		{"timeout_penalty", c.Objective.TimeoutPenalty},
	}
	for _, p := range nonNegative {
		if !(p.val >= 0) || math.IsInf(p.val, 0) {
			return &ConfigError{Field: p.name, Value: p.val, Reason: "must be non-negative and finite"}
		}
	}

	if !(v.DrivetrainEfficiency > 0 && v.DrivetrainEfficiency <= 1) {
		return &ConfigError{Field: "drivetrain_efficiency", Value: v.DrivetrainEfficiency, Reason: "must be in (0, 1]"}
	}
	if c.Targets.UpperKmh < c.Targets.LowerKmh {
		return &ConfigError{Field: "target_average_speed_upper_kmh", Value: c.Targets.UpperKmh, Reason: "must not be below the lower target"}
	}
	if c.Targets.LowerKmh > v.MaxSpeedKmh {
		return &ConfigError{Field: "target_average_speed_lower_kmh", Value: c.Targets.LowerKmh, Reason: "exceeds max_speed_kmh"}
	}

	s := c.Simulation
	if s.TotalLaps < 1 {
		return &ConfigError{Field: "total_laps_to_simulate", Value: s.TotalLaps, Reason: "must be at least 1"}
	}
	if s.StopsPerLap < 0 {
		return &ConfigError{Field: "stops_per_lap", Value: s.StopsPerLap, Reason: "must be non-negative"}
	}
	if s.MaxSteps < 0 || s.MaxSteps > MaxStepCeiling {
		return &ConfigError{Field: "simulation_max_steps", Value: s.MaxSteps, Reason: "must be in [0, 2147483647]"}
	}
	if s.MaxSteps == 0 {
		for _, dt := range []float64{s.TimeStepS, c.GA.TimeStepS} {
			if s.MaxTimeS/dt > MaxStepCeiling {
				return &ConfigError{Field: "simulation_max_time_s", Value: s.MaxTimeS, Reason: "allows more than 2147483647 steps at the configured time step"}
			}
		}
	}

	p := c.Policy
	if p.Buckets < 1 {
		return &ConfigError{Field: "policy_buckets", Value: p.Buckets, Reason: "must be at least 1"}
	}
	if p.ControlMode != ControlDistance && p.ControlMode != ControlTime {
		return &ConfigError{Field: "policy_control_mode", Value: p.ControlMode, Reason: "must be \"distance\" or \"time\""}
	}
	if p.Interpolation != InterpolateNearest && p.Interpolation != InterpolateLinear {
		return &ConfigError{Field: "policy_interpolation", Value: p.Interpolation, Reason: "must be \"nearest\" or \"linear\""}
	}

	g := c.GA
	if g.Generations < 1 {
		return &ConfigError{Field: "ga_generations", Value: g.Generations, Reason: "must be at least 1"}
	}
	if g.PopulationSize < 2 {
		return &ConfigError{Field: "ga_population_size", Value: g.PopulationSize, Reason: "must be at least 2"}
	}
	if !(g.MutationRate >= 0 && g.MutationRate <= 1) {
		return &ConfigError{Field: "ga_mutation_rate", Value: g.MutationRate, Reason: "must be in [0, 1]"}
	}
	if !(g.CrossoverRate >= 0 && g.CrossoverRate <= 1) {
		return &ConfigError{Field: "ga_crossover_rate", Value: g.CrossoverRate, Reason: "must be in [0, 1]"}
	}
	if g.EliteCount < 0 || g.EliteCount >= g.PopulationSize {
		return &ConfigError{Field: "ga_elite_count", Value: g.EliteCount, Reason: "must be in [0, population_size)"}
	}
	if g.TournamentSize < 1 || g.TournamentSize > g.PopulationSize {
		return &ConfigError{Field: "ga_tournament_size", Value: g.TournamentSize, Reason: "must be in [1, population_size]"}
	}
	if g.Selection != SelectTournament && g.Selection != SelectRoulette {
		return &ConfigError{Field: "ga_selection", Value: g.Selection, Reason: "must be \"tournament\" or \"roulette\""}
	}
	if g.StagnationGenerations < 0 {
		return &ConfigError{Field: "ga_stagnation_generations", Value: g.StagnationGenerations, Reason: "must be non-negative"}
	}
	if g.Workers < 0 {
		return &ConfigError{Field: "ga_workers", Value: g.Workers, Reason: "must be non-negative"}
	}
	return nil
}
