package policy

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/physics"
)

func TestValueNearest(t *testing.T) {
	p := Policy{Genes: []float64{-1, 0, 0.5, 1}, Mode: config.ControlDistance, Interpolation: config.InterpolateNearest}

	tests := []struct {
		x    float64
		want float64
	}{
		{0, -1},
		{0.24, -1},
		{0.25, 0},
		{0.6, 0.5},
		{0.99, 1},
		{1.5, 1},   // clamps high
		{-0.3, -1}, // clamps low
		{math.NaN(), -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Value(tt.x), "x=%v", tt.x)
	}
}

func TestValueLinear(t *testing.T) {
	p := Policy{Genes: []float64{0, 1}, Mode: config.ControlDistance, Interpolation: config.InterpolateLinear}

	// Bucket centres sit at 0.25 and 0.75.
	assert.Equal(t, 0.0, p.Value(0.1))
	assert.Equal(t, 0.0, p.Value(0.25))
	assert.InDelta(t, 0.5, p.Value(0.5), 1e-12)
	assert.InDelta(t, 0.2, p.Value(0.35), 1e-12)
	assert.Equal(t, 1.0, p.Value(0.75))
	assert.Equal(t, 1.0, p.Value(2))

	single := Policy{Genes: []float64{0.3}, Interpolation: config.InterpolateLinear}
	assert.Equal(t, 0.3, single.Value(0.9))

	assert.Equal(t, 0.0, Policy{}.Value(0.5))
}

func TestGeneCommand(t *testing.T) {
	assert.Equal(t, physics.Command{Throttle: 0.4}, GeneCommand(0.4))
	assert.Equal(t, physics.Command{Brake: 0.7}, GeneCommand(-0.7))
	assert.Equal(t, physics.Command{}, GeneCommand(0))
	assert.Equal(t, physics.Command{Throttle: 1}, GeneCommand(3))
	assert.Equal(t, physics.Command{}, GeneCommand(math.NaN()))
}

func TestGenomeController(t *testing.T) {
	genes := []float64{1, -0.5}

	t.Run("distance mode", func(t *testing.T) {
		c := NewGenomeController(Policy{Genes: genes, Mode: config.ControlDistance, Interpolation: config.InterpolateNearest}, 1000, 0, 1)
		obs := Observation{State: physics.State{SpeedMPS: 5}, LapDistanceM: 100}
		assert.Equal(t, physics.Command{Throttle: 1}, c.Command(obs))
		obs.LapDistanceM = 800
		assert.Equal(t, physics.Command{Brake: 0.5}, c.Command(obs))
	})

	t.Run("time mode", func(t *testing.T) {
		c := NewGenomeController(Policy{Genes: genes, Mode: config.ControlTime, Interpolation: config.InterpolateNearest}, 1000, 100, 1)
		obs := Observation{State: physics.State{SpeedMPS: 5, ElapsedS: 10}, LapDistanceM: 900}
		assert.Equal(t, physics.Command{Throttle: 1}, c.Command(obs))
		obs.State.ElapsedS = 70
		assert.Equal(t, physics.Command{Brake: 0.5}, c.Command(obs))
		obs.State.ElapsedS = 5000
		assert.Equal(t, physics.Command{Brake: 0.5}, c.Command(obs), "past the horizon clamps to the last bucket")
	})

	t.Run("launch assist", func(t *testing.T) {
		c := NewGenomeController(Policy{Genes: []float64{-1}, Mode: config.ControlDistance}, 1000, 0, 1)
		assert.Equal(t, physics.Command{Throttle: 1}, c.Command(Observation{State: physics.State{SpeedMPS: 0.5}}))
		assert.Equal(t, physics.Command{Brake: 1}, c.Command(Observation{State: physics.State{SpeedMPS: 2}}))
	})
}

func TestTimeHorizon(t *testing.T) {
	cfg := config.Defaults()
	// 4 laps of 1000 m at 25 km/h plus 4 holds of 2 s.
	assert.InDelta(t, 4*1000/(25/3.6)+8, TimeHorizon(cfg, 1000), 1e-9)

	cfg.Policy.TimeHorizonS = 300
	assert.Equal(t, 300.0, TimeHorizon(cfg, 1000))
}

func TestBaselineController(t *testing.T) {
	cfg := config.Defaults()
	c := NewBaselineController(cfg, nil)

	at := func(kmh float64) physics.Command {
		return c.Command(Observation{State: physics.State{SpeedMPS: kmh / 3.6}})
	}
	assert.Equal(t, physics.Command{Throttle: 1}, at(0))
	assert.Equal(t, physics.Command{Throttle: 1}, at(20))
	assert.Equal(t, physics.Command{}, at(27))

	above := at(36)
	assert.Zero(t, above.Throttle)
	assert.InDelta(t, (10-30/3.6)*45/1500, above.Brake, 1e-12)
}

func TestStopGuardHolding(t *testing.T) {
	inner := ControllerFunc(func(Observation) physics.Command { return physics.Command{Throttle: 1} })
	g := NewStopGuard(inner, physics.NewParams(config.Defaults().Vehicle), 0.1, 2)

	assert.Equal(t, physics.Command{Brake: 1, Hold: true}, g.Command(Observation{Holding: true, StopAheadM: math.Inf(1)}))
	assert.Equal(t, physics.Command{Throttle: 1}, g.Command(Observation{StopAheadM: math.Inf(1)}))
	assert.Equal(t, physics.Command{Throttle: 1}, g.Command(Observation{StopAheadM: 500}))
	assert.Equal(t, physics.Command{Brake: 1, Hold: true}, g.Command(Observation{StopAheadM: 1.5}))
	assert.Equal(t, physics.Command{Brake: 1, Hold: true}, g.Command(Observation{StopAheadM: -1}))
}

func TestStopGuardAllowedSpeed(t *testing.T) {
	g := NewStopGuard(nil, physics.NewParams(config.Defaults().Vehicle), 1, 2)
	// a_plan is half of 10 m/s^2.
	assert.Equal(t, 0.0, g.AllowedSpeed(0))
	assert.InDelta(t, 3, g.AllowedSpeed(3), 1e-12)
	assert.InDelta(t, math.Sqrt(200), g.AllowedSpeed(20), 1e-12)
}

func TestStopGuardStopsWithinTolerance(t *testing.T) {
	cfg := config.Defaults()
	p := physics.NewParams(cfg.Vehicle)
	const stopAt, tolerance = 200.0, 2.0
	flatOut := ControllerFunc(func(Observation) physics.Command { return physics.Command{Throttle: 1} })

	for _, dt := range []float64{0.05, 0.1, 0.5, 1} {
		g := NewStopGuard(flatOut, p, dt, tolerance)
		s := physics.State{SpeedMPS: 12}
		stopped := false
		for i := 0; i < 20000; i++ {
			d := stopAt - s.DistanceM
			require.GreaterOrEqual(t, d, -tolerance, "dt=%v overshot the stop", dt)
			cmd := g.Command(Observation{State: s, StopAheadM: d})
			s = physics.Step(s, cmd, dt, p)
			if s.SpeedMPS == 0 && math.Abs(stopAt-s.DistanceM) <= tolerance {
				stopped = true
				assert.Equal(t, physics.Stopped, s.Motion, "dt=%v", dt)
				break
			}
		}
		assert.True(t, stopped, "dt=%v never stopped at the stop", dt)
	}
}

func TestStopGuardCreepsFromStandstill(t *testing.T) {
	p := physics.NewParams(config.Defaults().Vehicle)
	coast := ControllerFunc(func(Observation) physics.Command { return physics.Command{} })
	g := NewStopGuard(coast, p, 0.1, 2)

	cmd := g.Command(Observation{State: physics.State{}, StopAheadM: 10})
	assert.Greater(t, cmd.Throttle, 0.0)
	assert.Zero(t, cmd.Brake)
}

func TestValidate(t *testing.T) {
	ok := Policy{Genes: []float64{0.1}, Mode: config.ControlDistance, Interpolation: config.InterpolateLinear}
	require.NoError(t, ok.Validate())

	bad := []Policy{
		{Mode: config.ControlDistance, Interpolation: config.InterpolateLinear},
		{Genes: []float64{1.5}, Mode: config.ControlDistance, Interpolation: config.InterpolateLinear},
		{Genes: []float64{math.NaN()}, Mode: config.ControlDistance, Interpolation: config.InterpolateLinear},
		{Genes: []float64{0}, Mode: "lap", Interpolation: config.InterpolateLinear},
		{Genes: []float64{0}, Mode: config.ControlTime, Interpolation: "spline"},
	}
	for i, p := range bad {
		assert.Error(t, p.Validate(), "case %d", i)
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for trial := 0; trial < 20; trial++ {
		genes := make([]float64, 1+rng.IntN(64))
		for i := range genes {
			genes[i] = rng.Float64()*2 - 1
		}
		genes[0] = math.Nextafter(-1, 0)
		p := New(genes, config.Defaults().Policy)

		data, err := Marshal(p)
		require.NoError(t, err)
		back, err := Unmarshal(data)
		require.NoError(t, err)

		require.Len(t, back.Genes, len(p.Genes))
		for i := range p.Genes {
			require.Equal(t, math.Float64bits(p.Genes[i]), math.Float64bits(back.Genes[i]), "gene %d", i)
		}
		assert.Equal(t, p.Mode, back.Mode)
		assert.Equal(t, p.Interpolation, back.Interpolation)
	}
}

func TestNewCopiesGenes(t *testing.T) {
	genes := []float64{0.1, 0.2}
	p := New(genes, config.Defaults().Policy)
	genes[0] = 0.9
	assert.Equal(t, 0.1, p.Genes[0])

	c := p.Clone()
	c.Genes[1] = -1
	assert.Equal(t, 0.2, p.Genes[1])
}

func TestBestPolicyFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.GA.Seed = 99

	doc := BestPolicy{
		Policy:           New([]float64{0.25, -0.125, 1}, cfg.Policy),
		Fitness:          -12.5,
		Generation:       7,
		TrackFingerprint: "abc",
		Config:           cfg,
	}
	path := filepath.Join(dir, "best.json")
	require.NoError(t, WriteFile(path, doc))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"car_mass_kg"`)
	assert.Contains(t, string(raw), `"ga_seed": 99`)
	assert.NotContains(t, string(raw), `"Vehicle"`)

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, back)

	t.Run("bare policy", func(t *testing.T) {
		bare := filepath.Join(dir, "bare.json")
		require.NoError(t, os.WriteFile(bare, []byte(`{"genes":[0.5],"mode":"time","interpolation":"nearest"}`), 0o644))
		got, err := ReadFile(bare)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5}, got.Policy.Genes)
		assert.Equal(t, config.Defaults(), got.Config)
	})

	t.Run("invalid genes", func(t *testing.T) {
		badPath := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(badPath, []byte(`{"policy":{"genes":[2],"mode":"time","interpolation":"nearest"}}`), 0o644))
		_, err := ReadFile(badPath)
		assert.Error(t, err)
	})
}
