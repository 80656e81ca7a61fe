package track

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square returns the corners of a square with the given side in metres.
func square(sideM float64) []Coordinate {
	d := sideM / EarthRadiusM * 180 / math.Pi
	return []Coordinate{{0, 0}, {0, d}, {d, d}, {d, 0}}
}

func TestBuildSquare(t *testing.T) {
	tr, err := Build(square(100), 0)
	require.NoError(t, err)

	assert.InDelta(t, 400, tr.LapLength(), 1e-6)
	pts := tr.Points()
	require.Len(t, pts, 4)
	for i := 1; i < len(pts); i++ {
		assert.Greater(t, pts[i].DistanceM, pts[i-1].DistanceM)
	}
	assert.Empty(t, tr.Stops())
}

func TestBuildDropsRepeatedClosingPoint(t *testing.T) {
	raw := append(square(100), square(100)[0])
	tr, err := Build(raw, 0)
	require.NoError(t, err)
	assert.Len(t, tr.Points(), 4)
	assert.InDelta(t, 400, tr.LapLength(), 1e-6)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []Coordinate
		stop int
	}{
		{"empty", nil, 0},
		{"single point", []Coordinate{{1, 1}}, 0},
		{"duplicate consecutive", []Coordinate{{0, 0}, {0, 0.001}, {0, 0.001}}, 0},
		{"NaN latitude", []Coordinate{{0, 0}, {math.NaN(), 0.001}}, 0},
		{"latitude out of range", []Coordinate{{0, 0}, {91, 0}}, 0},
		{"longitude out of range", []Coordinate{{0, 0}, {0, 181}}, 0},
		{"more stops than points", square(100), 5},
		{"negative stops", square(100), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.raw, tt.stop)
			var trackErr *InvalidTrackError
			require.True(t, errors.As(err, &trackErr), "want *InvalidTrackError, got %v", err)
		})
	}
}

func TestLoopLength(t *testing.T) {
	tr, err := Build(Loop(1000, 200), 1)
	require.NoError(t, err)
	assert.InDelta(t, 1000, tr.LapLength(), 1e-6)

	stops := tr.Stops()
	require.Len(t, stops, 1)
	assert.InDelta(t, 500, stops[0], 1e-6)
}

func TestStopsSnapToPoints(t *testing.T) {
	tr, err := Build(Loop(1000, 37), 3)
	require.NoError(t, err)

	stops := tr.Stops()
	require.Len(t, stops, 3)
	var flagged []float64
	for _, p := range tr.Points() {
		if p.IsStop {
			flagged = append(flagged, p.DistanceM)
		}
	}
	assert.Equal(t, stops, flagged)

	spacing := tr.LapLength() / 37
	for k, s := range stops {
		target := (float64(k) + 0.5) * tr.LapLength() / 3
		assert.LessOrEqual(t, math.Abs(s-target), spacing/2+1e-9, "stop %d", k)
	}
}

func TestStopsCollide(t *testing.T) {
	// Points at 0, 10, 20 and 1000 m along a meridian give a 2000 m lap.
	// Targets at 750 and 1250 m both snap to the far point.
	deg := func(m float64) float64 { return m / EarthRadiusM * 180 / math.Pi }
	raw := []Coordinate{{0, 0}, {deg(10), 0}, {deg(20), 0}, {deg(1000), 0}}

	_, err := Build(raw, 4)
	var trackErr *InvalidTrackError
	require.ErrorAs(t, err, &trackErr)
	assert.Equal(t, 3, trackErr.Index)

	_, err = Build(raw, 2)
	assert.NoError(t, err)
}

func TestLapDistance(t *testing.T) {
	tr, err := Build(Loop(1000, 100), 0)
	require.NoError(t, err)
	L := tr.LapLength()

	assert.InDelta(t, 0, tr.LapDistance(0), 1e-9)
	assert.InDelta(t, 250, tr.LapDistance(250), 1e-9)
	assert.InDelta(t, 250, tr.LapDistance(L+250), 1e-6)
	assert.InDelta(t, L-10, tr.LapDistance(-10), 1e-6)
	assert.Less(t, tr.LapDistance(3*L), L)
}

func TestNextStop(t *testing.T) {
	tr, err := Build(Loop(1000, 200), 2)
	require.NoError(t, err)
	stops := tr.Stops()
	require.Len(t, stops, 2)

	ahead, idx, ok := tr.NextStop(0)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, stops[0], ahead, 1e-9)

	ahead, idx, ok = tr.NextStop(stops[0])
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, 0, ahead, 1e-9)

	ahead, idx, _ = tr.NextStop(stops[1] + 1)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, tr.LapLength()-stops[1]-1+stops[0], ahead, 1e-6)

	none, err := Build(Loop(1000, 200), 0)
	require.NoError(t, err)
	_, _, ok = none.NextStop(10)
	assert.False(t, ok)
}

func TestSegmentAndPosition(t *testing.T) {
	tr, err := Build(square(100), 0)
	require.NoError(t, err)

	assert.Equal(t, 0, tr.SegmentAt(0))
	assert.Equal(t, 0, tr.SegmentAt(50))
	assert.Equal(t, 1, tr.SegmentAt(150))
	assert.Equal(t, 3, tr.SegmentAt(399))
	assert.Equal(t, 0, tr.SegmentAt(400))

	x, y := tr.Position(50)
	assert.InDelta(t, 50, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	x, y = tr.Position(250)
	assert.InDelta(t, 50, x, 1e-6)
	assert.InDelta(t, 100, y, 1e-6)
}

func TestCorners(t *testing.T) {
	// A circle turns 360/n degrees per segment; with window 8 the angle
	// between segments i-8 and i+8 is 16*360/n.
	tight, err := Build(Loop(1000, 100), 0)
	require.NoError(t, err)
	assert.Equal(t, 100, tight.CornerSegments())
	assert.True(t, tight.IsCorner(10))

	gentle, err := Build(Loop(10000, 1000), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, gentle.CornerSegments())
	assert.False(t, gentle.IsCorner(10))
}

func TestFingerprint(t *testing.T) {
	a, err := Build(Loop(1000, 50), 1)
	require.NoError(t, err)
	b, err := Build(Loop(1000, 50), 1)
	require.NoError(t, err)
	c, err := Build(Loop(1000, 50), 2)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 32)
}

func TestReadCSV(t *testing.T) {
	t.Run("tab separated", func(t *testing.T) {
		in := "id\tlatitude\tlongitude\n1\t52.1\t4.3\n2\t52.2\t4.4\n"
		got, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, []Coordinate{{52.1, 4.3}, {52.2, 4.4}}, got)
	})

	t.Run("comma separated", func(t *testing.T) {
		in := "Longitude,Latitude\n4.3,52.1\n\n4.4,52.2\n"
		got, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, []Coordinate{{52.1, 4.3}, {52.2, 4.4}}, got)
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("lat,alt\n1,2\n"))
		assert.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("latitude,longitude\nx,2\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}
