package config

import (
	"encoding/json"
	"fmt"
)

// File is the on-disk configuration schema. Every field is optional; a
// nil field keeps the value it had before the file was applied, so a
// partial file overlays the defaults instead of replacing them.
//
// The same schema is accepted by the HTTP API and the RPC request body.
type File struct {
	// Vehicle
	CarMassKg                    *float64 `json:"car_mass_kg,omitempty" yaml:"car_mass_kg,omitempty"`
	FrontalAreaM2                *float64 `json:"frontal_area_m2,omitempty" yaml:"frontal_area_m2,omitempty"`
	DragCoefficient              *float64 `json:"drag_coefficient,omitempty" yaml:"drag_coefficient,omitempty"`
	RollingResistanceCoefficient *float64 `json:"rolling_resistance_coefficient,omitempty" yaml:"rolling_resistance_coefficient,omitempty"`
	AirDensityKgPerM3            *float64 `json:"air_density_kgpm3,omitempty" yaml:"air_density_kgpm3,omitempty"`
	GravityMPS2                  *float64 `json:"gravity_mps2,omitempty" yaml:"gravity_mps2,omitempty"`
	MotorMaxPowerWatts           *float64 `json:"motor_max_power_watts,omitempty" yaml:"motor_max_power_watts,omitempty"`
	MaxDriveForceN               *float64 `json:"max_drive_force_n,omitempty" yaml:"max_drive_force_n,omitempty"`
	MaxBrakeForceN               *float64 `json:"max_brake_force_n,omitempty" yaml:"max_brake_force_n,omitempty"`
	DrivetrainEfficiency         *float64 `json:"drivetrain_efficiency,omitempty" yaml:"drivetrain_efficiency,omitempty"`
	MaxSpeedKmh                  *float64 `json:"max_speed_kmh,omitempty" yaml:"max_speed_kmh,omitempty"`
	LaunchSpeedMPS               *float64 `json:"launch_speed_mps,omitempty" yaml:"launch_speed_mps,omitempty"`
	SafeCornerSpeedKmh           *float64 `json:"safe_corner_speed_kmh,omitempty" yaml:"safe_corner_speed_kmh,omitempty"`

	// Targets
	TargetLowerKmh *float64 `json:"target_average_speed_lower_kmh,omitempty" yaml:"target_average_speed_lower_kmh,omitempty"`
	TargetUpperKmh *float64 `json:"target_average_speed_upper_kmh,omitempty" yaml:"target_average_speed_upper_kmh,omitempty"`

	// Simulation
	TotalLaps          *int     `json:"total_laps_to_simulate,omitempty" yaml:"total_laps_to_simulate,omitempty"`
	StopsPerLap        *int     `json:"stops_per_lap,omitempty" yaml:"stops_per_lap,omitempty"`
	TimeStepSeconds    *float64 `json:"simulation_time_step_seconds,omitempty" yaml:"simulation_time_step_seconds,omitempty"`
	StopToleranceM     *float64 `json:"stop_tolerance_m,omitempty" yaml:"stop_tolerance_m,omitempty"`
	StopHoldSeconds    *float64 `json:"stop_hold_seconds,omitempty" yaml:"stop_hold_seconds,omitempty"`
	MaxSimulationTimeS *float64 `json:"simulation_max_time_s,omitempty" yaml:"simulation_max_time_s,omitempty"`
	MaxSimulationSteps *int     `json:"simulation_max_steps,omitempty" yaml:"simulation_max_steps,omitempty"`

	// Policy
	PolicyBuckets       *int     `json:"policy_buckets,omitempty" yaml:"policy_buckets,omitempty"`
	PolicyControlMode   *string  `json:"policy_control_mode,omitempty" yaml:"policy_control_mode,omitempty"`
	PolicyInterpolation *string  `json:"policy_interpolation,omitempty" yaml:"policy_interpolation,omitempty"`
	PolicyTimeHorizonS  *float64 `json:"policy_time_horizon_s,omitempty" yaml:"policy_time_horizon_s,omitempty"`

	// Objective
	SpeedWeight       *float64 `json:"speed_weight,omitempty" yaml:"speed_weight,omitempty"`
	EnergyWeight      *float64 `json:"energy_weight,omitempty" yaml:"energy_weight,omitempty"`
	StopPenaltyWeight *float64 `json:"stop_penalty_weight,omitempty" yaml:"stop_penalty_weight,omitempty"`
	TimeoutPenalty    *float64 `json:"timeout_penalty,omitempty" yaml:"timeout_penalty,omitempty"`

	// Genetic optimizer
	GAGenerations           *int     `json:"ga_generations,omitempty" yaml:"ga_generations,omitempty"`
	GAPopulationSize        *int     `json:"ga_population_size,omitempty" yaml:"ga_population_size,omitempty"`
	GAMutationRate          *float64 `json:"ga_mutation_rate,omitempty" yaml:"ga_mutation_rate,omitempty"`
	GACrossoverRate         *float64 `json:"ga_crossover_rate,omitempty" yaml:"ga_crossover_rate,omitempty"`
	GAMutationSigma         *float64 `json:"ga_mutation_sigma,omitempty" yaml:"ga_mutation_sigma,omitempty"`
	GATimeStepSeconds       *float64 `json:"ga_time_step_seconds,omitempty" yaml:"ga_time_step_seconds,omitempty"`
	GAEliteCount            *int     `json:"ga_elite_count,omitempty" yaml:"ga_elite_count,omitempty"`
	GATournamentSize        *int     `json:"ga_tournament_size,omitempty" yaml:"ga_tournament_size,omitempty"`
	GASelection             *string  `json:"ga_selection,omitempty" yaml:"ga_selection,omitempty"`
	GAStagnationGenerations *int     `json:"ga_stagnation_generations,omitempty" yaml:"ga_stagnation_generations,omitempty"`
	GAWorkers               *int     `json:"ga_workers,omitempty" yaml:"ga_workers,omitempty"`
	GASeed                  *uint64  `json:"ga_seed,omitempty" yaml:"ga_seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// Resolve converts f into a validated Config. Every field must be set;
// callers normally apply f on top of Defaults first.
func (f *File) Resolve() (Config, error) {
	var missing []string
	fl := func(name string, p *float64) float64 {
		if p == nil {
			missing = append(missing, name)
			return 0
		}
		return *p
	}
	in := func(name string, p *int) int {
		if p == nil {
			missing = append(missing, name)
			return 0
		}
		return *p
	}
	str := func(name string, p *string) string {
		if p == nil {
			missing = append(missing, name)
			return ""
		}
		return *p
	}

	c := Config{
		Vehicle: Vehicle{
			MassKg:                       fl("car_mass_kg", f.CarMassKg),
			FrontalAreaM2:                fl("frontal_area_m2", f.FrontalAreaM2),
			DragCoefficient:              fl("drag_coefficient", f.DragCoefficient),
			RollingResistanceCoefficient: fl("rolling_resistance_coefficient", f.RollingResistanceCoefficient),
			AirDensityKgPerM3:            fl("air_density_kgpm3", f.AirDensityKgPerM3),
			GravityMPS2:                  fl("gravity_mps2", f.GravityMPS2),
			MotorMaxPowerW:               fl("motor_max_power_watts", f.MotorMaxPowerWatts),
			MaxDriveForceN:               fl("max_drive_force_n", f.MaxDriveForceN),
			MaxBrakeForceN:               fl("max_brake_force_n", f.MaxBrakeForceN),
			DrivetrainEfficiency:         fl("drivetrain_efficiency", f.DrivetrainEfficiency),
			MaxSpeedKmh:                  fl("max_speed_kmh", f.MaxSpeedKmh),
			LaunchSpeedMPS:               fl("launch_speed_mps", f.LaunchSpeedMPS),
			SafeCornerSpeedKmh:           fl("safe_corner_speed_kmh", f.SafeCornerSpeedKmh),
		},
		Targets: Targets{
			LowerKmh: fl("target_average_speed_lower_kmh", f.TargetLowerKmh),
			UpperKmh: fl("target_average_speed_upper_kmh", f.TargetUpperKmh),
		},
		Simulation: Simulation{
			TotalLaps:      in("total_laps_to_simulate", f.TotalLaps),
			StopsPerLap:    in("stops_per_lap", f.StopsPerLap),
			TimeStepS:      fl("simulation_time_step_seconds", f.TimeStepSeconds),
			StopToleranceM: fl("stop_tolerance_m", f.StopToleranceM),
			StopHoldS:      fl("stop_hold_seconds", f.StopHoldSeconds),
			MaxTimeS:       fl("simulation_max_time_s", f.MaxSimulationTimeS),
			MaxSteps:       in("simulation_max_steps", f.MaxSimulationSteps),
		},
		Policy: Policy{
			Buckets:       in("policy_buckets", f.PolicyBuckets),
			ControlMode:   str("policy_control_mode", f.PolicyControlMode),
			Interpolation: str("policy_interpolation", f.PolicyInterpolation),
			TimeHorizonS:  fl("policy_time_horizon_s", f.PolicyTimeHorizonS),
		},
		Objective: Objective{
			SpeedWeight:       fl("speed_weight", f.SpeedWeight),
			EnergyWeight:      fl("energy_weight", f.EnergyWeight),
			StopPenaltyWeight: fl("stop_penalty_weight", f.StopPenaltyWeight),
			TimeoutPenalty:    fl("timeout_penalty", f.TimeoutPenalty),
		},
		GA: GA{
			Generations:           in("ga_generations", f.GAGenerations),
			PopulationSize:        in("ga_population_size", f.GAPopulationSize),
			MutationRate:          fl("ga_mutation_rate", f.GAMutationRate),
			CrossoverRate:         fl("ga_crossover_rate", f.GACrossoverRate),
			MutationSigma:         fl("ga_mutation_sigma", f.GAMutationSigma),
			TimeStepS:             fl("ga_time_step_seconds", f.GATimeStepSeconds),
			EliteCount:            in("ga_elite_count", f.GAEliteCount),
			TournamentSize:        in("ga_tournament_size", f.GATournamentSize),
			Selection:             str("ga_selection", f.GASelection),
			StagnationGenerations: in("ga_stagnation_generations", f.GAStagnationGenerations),
			Workers:               in("ga_workers", f.GAWorkers),
		},
	}
	if f.GASeed == nil {
		missing = append(missing, "ga_seed")
	} else {
		c.GA.Seed = *f.GASeed
	}

	if len(missing) > 0 {
		return Config{}, &ConfigError{Field: missing[0], Reason: "missing"}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// File returns a fully populated File equivalent to c.
func (c Config) File() File {
	v, s, p, o, g := c.Vehicle, c.Simulation, c.Policy, c.Objective, c.GA
	return File{
		CarMassKg:                    ptrFloat64(v.MassKg),
		FrontalAreaM2:                ptrFloat64(v.FrontalAreaM2),
		DragCoefficient:              ptrFloat64(v.DragCoefficient),
		RollingResistanceCoefficient: ptrFloat64(v.RollingResistanceCoefficient),
		AirDensityKgPerM3:            ptrFloat64(v.AirDensityKgPerM3),
		GravityMPS2:                  ptrFloat64(v.GravityMPS2),
		MotorMaxPowerWatts:           ptrFloat64(v.MotorMaxPowerW),
		MaxDriveForceN:               ptrFloat64(v.MaxDriveForceN),
		MaxBrakeForceN:               ptrFloat64(v.MaxBrakeForceN),
		DrivetrainEfficiency:         ptrFloat64(v.DrivetrainEfficiency),
		MaxSpeedKmh:                  ptrFloat64(v.MaxSpeedKmh),
		LaunchSpeedMPS:               ptrFloat64(v.LaunchSpeedMPS),
		SafeCornerSpeedKmh:           ptrFloat64(v.SafeCornerSpeedKmh),

		TargetLowerKmh: ptrFloat64(c.Targets.LowerKmh),
		TargetUpperKmh: ptrFloat64(c.Targets.UpperKmh),

		TotalLaps:          ptrInt(s.TotalLaps),
		StopsPerLap:        ptrInt(s.StopsPerLap),
		TimeStepSeconds:    ptrFloat64(s.TimeStepS),
		StopToleranceM:     ptrFloat64(s.StopToleranceM),
		StopHoldSeconds:    ptrFloat64(s.StopHoldS),
		MaxSimulationTimeS: ptrFloat64(s.MaxTimeS),
		MaxSimulationSteps: ptrInt(s.MaxSteps),

		PolicyBuckets:       ptrInt(p.Buckets),
		PolicyControlMode:   ptrString(p.ControlMode),
		PolicyInterpolation: ptrString(p.Interpolation),
		PolicyTimeHorizonS:  ptrFloat64(p.TimeHorizonS),

		SpeedWeight:       ptrFloat64(o.SpeedWeight),
		EnergyWeight:      ptrFloat64(o.EnergyWeight),
		StopPenaltyWeight: ptrFloat64(o.StopPenaltyWeight),
		TimeoutPenalty:    ptrFloat64(o.TimeoutPenalty),

		GAGenerations:           ptrInt(g.Generations),
		GAPopulationSize:        ptrInt(g.PopulationSize),
		GAMutationRate:          ptrFloat64(g.MutationRate),
		GACrossoverRate:         ptrFloat64(g.CrossoverRate),
		GAMutationSigma:         ptrFloat64(g.MutationSigma),
		GATimeStepSeconds:       ptrFloat64(g.TimeStepS),
		GAEliteCount:            ptrInt(g.EliteCount),
		GATournamentSize:        ptrInt(g.TournamentSize),
		GASelection:             ptrString(g.Selection),
		GAStagnationGenerations: ptrInt(g.StagnationGenerations),
		GAWorkers:               ptrInt(g.Workers),
		GASeed:                  ptrUint64(g.Seed),
	}
}

// MarshalJSON writes the config in the flat File schema.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.File())
}

// UnmarshalJSON reads a config in the flat File schema. Absent keys take
// their default values.
func (c *Config) UnmarshalJSON(data []byte) error {
	f := DefaultFile()
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	resolved, err := f.Resolve()
	if err != nil {
		return err
	}
	*c = resolved
	return nil
}

// Override applies the non-nil fields of patch on top of base and
// validates the result.
func Override(base Config, patch File) (Config, error) {
	merged := base.File()
	raw, err := json.Marshal(patch)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode config patch: %w", err)
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return Config{}, fmt.Errorf("failed to apply config patch: %w", err)
	}
	return merged.Resolve()
}
