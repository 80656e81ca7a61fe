// Package track builds the immutable course geometry a simulation runs on.
//
// Raw latitude/longitude pairs are projected onto a local plane, closed into
// a loop and measured. Stops are snapped onto existing points so that every
// stop distance is also a point distance. Once built, a Track is read-only and
// safe to share between concurrent engine runs.
package track

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// EarthRadiusM is the sphere radius used by the equirectangular projection.
const EarthRadiusM = 6371000.0

// Corner detection defaults.
const (
	DefaultCornerWindow       = 8
	DefaultCornerThresholdDeg = 9.0
)

// Coordinate is a raw geographic input point in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point is a projected track point.
type Point struct {
	DistanceM float64 `json:"distance_m"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	XM        float64 `json:"x_m"`
	YM        float64 `json:"y_m"`
	IsStop    bool    `json:"is_stop"`
}

// InvalidTrackError reports geometry that cannot form a lap.
// Index is the offending raw point, or -1 when the problem is not tied to one point.
type InvalidTrackError struct {
	Index  int
	Reason string
}

func (e *InvalidTrackError) Error() string {
	if e.Index < 0 {
		return "invalid track: " + e.Reason
	}
	return fmt.Sprintf("invalid track: point %d: %s", e.Index, e.Reason)
}

// Options tunes Build.
type Options struct {
	StopsPerLap        int
	CornerWindow       int     // segments either side; 0 uses DefaultCornerWindow
	CornerThresholdDeg float64 // 0 uses DefaultCornerThresholdDeg
}

// Track is an immutable closed course.
type Track struct {
	points    []Point
	segLen    []float64    // segLen[i] runs from points[i] to points[(i+1)%n]
	segDir    [][2]float64 // unit direction per segment
	corner    []bool
	lapLength float64
	stops     []float64 // ascending lap distances
	stopIdx   []int
	fp        string
}

// Build constructs a Track with the default corner detection settings.
func Build(raw []Coordinate, stopsPerLap int) (*Track, error) {
	return BuildWithOptions(raw, Options{StopsPerLap: stopsPerLap})
}

// BuildWithOptions validates raw, projects it and places stops.
func BuildWithOptions(raw []Coordinate, opts Options) (*Track, error) {
	if opts.CornerWindow <= 0 {
		opts.CornerWindow = DefaultCornerWindow
	}
	if opts.CornerThresholdDeg <= 0 {
		opts.CornerThresholdDeg = DefaultCornerThresholdDeg
	}
	if opts.StopsPerLap < 0 {
		return nil, &InvalidTrackError{Index: -1, Reason: fmt.Sprintf("negative stops per lap %d", opts.StopsPerLap)}
	}
	if len(raw) < 2 {
		return nil, &InvalidTrackError{Index: -1, Reason: fmt.Sprintf("need at least 2 points, got %d", len(raw))}
	}

	for i, c := range raw {
		if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
			return nil, &InvalidTrackError{Index: i, Reason: "non-finite coordinate"}
		}
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return nil, &InvalidTrackError{Index: i, Reason: fmt.Sprintf("coordinate out of range (%v, %v)", c.Latitude, c.Longitude)}
		}
		if i > 0 && c == raw[i-1] {
			return nil, &InvalidTrackError{Index: i, Reason: "duplicate of previous point"}
		}
	}

	// A trailing copy of the first point only restates the closing segment.
	pts := raw
	if len(pts) > 2 && pts[len(pts)-1] == pts[0] {
		pts = pts[:len(pts)-1]
	}

	t := &Track{}
	t.project(pts)
	if err := t.measure(); err != nil {
		return nil, err
	}
	t.detectCorners(opts.CornerWindow, opts.CornerThresholdDeg)
	if err := t.placeStops(opts.StopsPerLap); err != nil {
		return nil, err
	}
	t.fp = fingerprint(t.points, opts.StopsPerLap)
	return t, nil
}

// project applies an equirectangular projection about the mean latitude
// with the first point as origin.
func (t *Track) project(pts []Coordinate) {
	var sumLat float64
	for _, c := range pts {
		sumLat += c.Latitude
	}
	cosLat := math.Cos(sumLat / float64(len(pts)) * math.Pi / 180)
	lat0, lon0 := pts[0].Latitude, pts[0].Longitude

	t.points = make([]Point, len(pts))
	for i, c := range pts {
		t.points[i] = Point{
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			XM:        EarthRadiusM * (c.Longitude - lon0) * math.Pi / 180 * cosLat,
			YM:        EarthRadiusM * (c.Latitude - lat0) * math.Pi / 180,
		}
	}
}

func (t *Track) measure() error {
	n := len(t.points)
	t.segLen = make([]float64, n)
	t.segDir = make([][2]float64, n)
	var cum float64
	for i := range t.points {
		a, b := t.points[i], t.points[(i+1)%n]
		dx, dy := b.XM-a.XM, b.YM-a.YM
		l := math.Hypot(dx, dy)
		if !(l > 0) {
			return &InvalidTrackError{Index: (i + 1) % n, Reason: "zero-length segment gives non-monotonic distance"}
		}
		t.points[i].DistanceM = cum
		t.segLen[i] = l
		t.segDir[i] = [2]float64{dx / l, dy / l}
		cum += l
	}
	t.lapLength = cum
	return nil
}

func (t *Track) detectCorners(window int, thresholdDeg float64) {
	n := len(t.segDir)
	t.corner = make([]bool, n)
	for i := range t.segDir {
		before := t.segDir[((i-window)%n+n)%n]
		after := t.segDir[(i+window)%n]
		dot := before[0]*after[0] + before[1]*after[1]
		dot = math.Max(-1, math.Min(1, dot))
		t.corner[i] = math.Acos(dot)*180/math.Pi > thresholdDeg
	}
}

// placeStops puts stop k at (k+0.5)*lap/n and snaps it to the nearest
// point, measured around the loop. Ties go to the lower index.
func (t *Track) placeStops(n int) error {
	if n == 0 {
		return nil
	}
	if n > len(t.points) {
		return &InvalidTrackError{Index: -1, Reason: fmt.Sprintf("%d stops per lap need at least as many points, got %d", n, len(t.points))}
	}
	used := make(map[int]bool, n)
	for k := 0; k < n; k++ {
		target := (float64(k) + 0.5) * t.lapLength / float64(n)
		best, bestGap := 0, math.Inf(1)
		for i, p := range t.points {
			gap := math.Abs(p.DistanceM - target)
			gap = math.Min(gap, t.lapLength-gap)
			if gap < bestGap {
				best, bestGap = i, gap
			}
		}
		if used[best] {
			return &InvalidTrackError{Index: best, Reason: fmt.Sprintf("stop %d snaps to the same point as an earlier stop", k)}
		}
		used[best] = true
		t.points[best].IsStop = true
		t.stopIdx = append(t.stopIdx, best)
	}
	sort.Ints(t.stopIdx)
	for _, i := range t.stopIdx {
		t.stops = append(t.stops, t.points[i].DistanceM)
	}
	return nil
}

func fingerprint(points []Point, stops int) string {
	h := sha256.New()
	var buf [8]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Latitude))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Longitude))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(stops))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// LapLength returns the closed-loop length in metres.
func (t *Track) LapLength() float64 { return t.lapLength }

// Points returns a copy of the projected points.
func (t *Track) Points() []Point {
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Stops returns the stop lap distances in ascending order.
func (t *Track) Stops() []float64 {
	out := make([]float64, len(t.stops))
	copy(out, t.stops)
	return out
}

// StopsPerLap returns the number of stops placed on each lap.
func (t *Track) StopsPerLap() int { return len(t.stops) }

// Fingerprint identifies the geometry and stop layout.
func (t *Track) Fingerprint() string { return t.fp }

// LapDistance folds a total distance into [0, LapLength).
func (t *Track) LapDistance(d float64) float64 {
	r := math.Mod(d, t.lapLength)
	if r < 0 {
		r += t.lapLength
	}
	if r >= t.lapLength {
		r = 0
	}
	return r
}

// NextStop returns the distance ahead of total distance d to the next stop
// at or after it on the loop, and that stop's index into Stops. ok is false
// when the track has no stops.
func (t *Track) NextStop(d float64) (ahead float64, index int, ok bool) {
	if len(t.stops) == 0 {
		return 0, 0, false
	}
	s := t.LapDistance(d)
	i := sort.SearchFloat64s(t.stops, s)
	if i == len(t.stops) {
		return t.lapLength - s + t.stops[0], 0, true
	}
	return t.stops[i] - s, i, true
}

// SegmentAt returns the index of the segment containing total distance d.
func (t *Track) SegmentAt(d float64) int {
	s := t.LapDistance(d)
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].DistanceM > s }) - 1
	if i < 0 {
		i = 0
	}
	return i
}

// IsCorner reports whether total distance d lies on a corner segment.
func (t *Track) IsCorner(d float64) bool { return t.corner[t.SegmentAt(d)] }

// CornerSegments returns the number of segments flagged as corners.
func (t *Track) CornerSegments() int {
	var n int
	for _, c := range t.corner {
		if c {
			n++
		}
	}
	return n
}

// Position interpolates the planar x/y in metres at total distance d.
func (t *Track) Position(d float64) (x, y float64) {
	s := t.LapDistance(d)
	i := t.SegmentAt(s)
	p := t.points[i]
	along := s - p.DistanceM
	return p.XM + t.segDir[i][0]*along, p.YM + t.segDir[i][1]*along
}
