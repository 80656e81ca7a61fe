package config

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, 150.0, c.Vehicle.MassKg)
	assert.Equal(t, 1.0, c.Vehicle.DrivetrainEfficiency)
	assert.Equal(t, 25.0, c.Targets.LowerKmh)
	assert.Equal(t, 30.0, c.Targets.UpperKmh)
	assert.Equal(t, 4, c.Simulation.TotalLaps)
	assert.Equal(t, ControlDistance, c.Policy.ControlMode)
	assert.Equal(t, SelectTournament, c.GA.Selection)
	assert.Equal(t, uint64(1), c.GA.Seed)
}

func TestDefaultFileIsFresh(t *testing.T) {
	a := DefaultFile()
	*a.CarMassKg = 999
	b := DefaultFile()
	assert.Equal(t, 150.0, *b.CarMassKg)
}

func TestStepCeiling(t *testing.T) {
	c := Defaults()
	assert.Equal(t, 72000, c.StepCeiling(0.1))
	assert.Equal(t, 7200, c.StepCeiling(1))

	c.Simulation.MaxSteps = 50
	assert.Equal(t, 50, c.StepCeiling(0.1))

	c.Simulation.MaxSteps = 0
	c.Simulation.MaxTimeS = 1e300
	assert.Equal(t, MaxStepCeiling, c.StepCeiling(0.1))
	assert.Equal(t, MaxStepCeiling, c.StepCeiling(1e-300))
}

func TestHugeMaxTimeAllowedWithStepLimit(t *testing.T) {
	c := Defaults()
	c.Simulation.MaxTimeS = 1e300
	c.Simulation.MaxSteps = 1000
	require.NoError(t, c.Validate())
	assert.Equal(t, 1000, c.StepCeiling(c.Simulation.TimeStepS))
}

func TestWithTimeStep(t *testing.T) {
	c := Defaults()
	d := c.WithTimeStep(0.5)
	assert.Equal(t, 0.5, d.Simulation.TimeStepS)
	assert.Equal(t, 0.1, c.Simulation.TimeStepS, "original must not change")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero mass", func(c *Config) { c.Vehicle.MassKg = 0 }, "car_mass_kg"},
		{"NaN drag", func(c *Config) { c.Vehicle.DragCoefficient = math.NaN() }, "drag_coefficient"},
		{"infinite power", func(c *Config) { c.Vehicle.MotorMaxPowerW = math.Inf(1) }, "motor_max_power_watts"},
		{"negative rolling", func(c *Config) { c.Vehicle.RollingResistanceCoefficient = -0.1 }, "rolling_resistance_coefficient"},
		{"efficiency above one", func(c *Config) { c.Vehicle.DrivetrainEfficiency = 1.2 }, "drivetrain_efficiency"},
		{"inverted band", func(c *Config) { c.Targets.UpperKmh = 20 }, "target_average_speed_upper_kmh"},
		{"band above max speed", func(c *Config) { c.Targets.LowerKmh = 70; c.Targets.UpperKmh = 80 }, "target_average_speed_lower_kmh"},
		{"zero dt", func(c *Config) { c.Simulation.TimeStepS = 0 }, "simulation_time_step_seconds"},
		{"zero laps", func(c *Config) { c.Simulation.TotalLaps = 0 }, "total_laps_to_simulate"},
		{"negative stops", func(c *Config) { c.Simulation.StopsPerLap = -1 }, "stops_per_lap"},
		{"zero buckets", func(c *Config) { c.Policy.Buckets = 0 }, "policy_buckets"},
		{"bad mode", func(c *Config) { c.Policy.ControlMode = "speed" }, "policy_control_mode"},
		{"bad interpolation", func(c *Config) { c.Policy.Interpolation = "cubic" }, "policy_interpolation"},
		{"tiny population", func(c *Config) { c.GA.PopulationSize = 1 }, "ga_population_size"},
		{"mutation above one", func(c *Config) { c.GA.MutationRate = 1.5 }, "ga_mutation_rate"},
		{"crossover negative", func(c *Config) { c.GA.CrossoverRate = -0.1 }, "ga_crossover_rate"},
		{"elite fills population", func(c *Config) { c.GA.EliteCount = c.GA.PopulationSize }, "ga_elite_count"},
		{"tournament too large", func(c *Config) { c.GA.TournamentSize = c.GA.PopulationSize + 1 }, "ga_tournament_size"},
		{"bad selection", func(c *Config) { c.GA.Selection = "rank" }, "ga_selection"},
		{"zero ga dt", func(c *Config) { c.GA.TimeStepS = 0 }, "ga_time_step_seconds"},
		{"negative workers", func(c *Config) { c.GA.Workers = -2 }, "ga_workers"},
		{"zero launch speed", func(c *Config) { c.Vehicle.LaunchSpeedMPS = 0 }, "launch_speed_mps"},
		{"huge max time", func(c *Config) { c.Simulation.MaxTimeS = 1e300 }, "simulation_max_time_s"},
		{"tiny dt for max time", func(c *Config) { c.Simulation.TimeStepS = 1e-9 }, "simulation_max_time_s"},
		{"tiny ga dt for max time", func(c *Config) { c.GA.TimeStepS = 1e-9 }, "simulation_max_time_s"},
		{"too many max steps", func(c *Config) { c.Simulation.MaxSteps = MaxStepCeiling + 1 }, "simulation_max_steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected *ConfigError, got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestResolveMissingField(t *testing.T) {
	f := DefaultFile()
	f.StopsPerLap = nil
	_, err := f.Resolve()

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "stops_per_lap", cfgErr.Field)
	assert.Equal(t, "missing", cfgErr.Reason)
}

func TestParsePartialJSON(t *testing.T) {
	c, err := Parse([]byte(`{"car_mass_kg": 200, "stops_per_lap": 2}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 200.0, c.Vehicle.MassKg)
	assert.Equal(t, 2, c.Simulation.StopsPerLap)
	assert.Equal(t, Defaults().Vehicle.FrontalAreaM2, c.Vehicle.FrontalAreaM2)
}

func TestParseYAML(t *testing.T) {
	doc := "ga_population_size: 10\nga_generations: 5\nga_selection: roulette\n"
	c, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 10, c.GA.PopulationSize)
	assert.Equal(t, 5, c.GA.Generations)
	assert.Equal(t, SelectRoulette, c.GA.Selection)
}

func TestParseEmptyYAMLIsDefaults(t *testing.T) {
	c, err := Parse(nil, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
}

func TestParseRejects(t *testing.T) {
	t.Run("unknown json field", func(t *testing.T) {
		_, err := Parse([]byte(`{"car_mass": 200}`), FormatJSON)
		assert.Error(t, err)
	})
	t.Run("unknown yaml field", func(t *testing.T) {
		_, err := Parse([]byte("car_mass: 200\n"), FormatYAML)
		assert.Error(t, err)
	})
	t.Run("invalid value", func(t *testing.T) {
		_, err := Parse([]byte(`{"car_mass_kg": -1}`), FormatJSON)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "car_mass_kg", cfgErr.Field)
	})
	t.Run("unknown format", func(t *testing.T) {
		_, err := Parse([]byte(`{}`), Format("toml"))
		assert.Error(t, err)
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "run.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"total_laps_to_simulate": 1}`), 0o644))
		c, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Simulation.TotalLaps)
	})

	t.Run("yml", func(t *testing.T) {
		path := filepath.Join(dir, "run.yml")
		require.NoError(t, os.WriteFile(path, []byte("max_speed_kmh: 45\n"), 0o644))
		c, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 45.0, c.Vehicle.MaxSpeedKmh)
	})

	t.Run("bad extension", func(t *testing.T) {
		path := filepath.Join(dir, "run.txt")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extension")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "absent.json"))
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(dir, "big.json")
		big := `{"car_mass_kg": 150` + strings.Repeat(" ", MaxFileSize) + `}`
		require.NoError(t, os.WriteFile(path, []byte(big), 0o644))
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestOverride(t *testing.T) {
	base := Defaults()
	c, err := Override(base, File{StopsPerLap: ptrInt(0), GAWorkers: ptrInt(4)})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Simulation.StopsPerLap)
	assert.Equal(t, 4, c.GA.Workers)
	assert.Equal(t, base.Vehicle, c.Vehicle)

	_, err = Override(base, File{GAPopulationSize: ptrInt(1)})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	c := Defaults()
	c.GA.Seed = 42
	c.Vehicle.SafeCornerSpeedKmh = 18

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ga_seed":42`)

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "car_mass_kg", Value: -1.0, Reason: "must be positive and finite"}
	assert.Equal(t, "config: car_mass_kg: must be positive and finite (got -1)", err.Error())

	err = &ConfigError{Field: "ga_seed", Reason: "missing"}
	assert.Equal(t, "config: ga_seed: missing", err.Error())
}
