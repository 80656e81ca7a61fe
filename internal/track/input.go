package track

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV reads a tab- or comma-separated track file with latitude and
// longitude columns. The delimiter is taken from the header line; other
// columns are ignored.
func ReadCSV(r io.Reader) ([]Coordinate, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read track header: %w", err)
	}
	firstLine := string(head)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	reader := csv.NewReader(br)
	if strings.Contains(firstLine, "\t") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read track header: %w", err)
	}
	latCol, lonCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "latitude", "lat":
			latCol = i
		case "longitude", "lon", "lng":
			lonCol = i
		}
	}
	if latCol < 0 || lonCol < 0 {
		return nil, fmt.Errorf("track header must name latitude and longitude columns, got %v", header)
	}

	var out []Coordinate
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) <= latCol || len(rec) <= lonCol {
			return nil, fmt.Errorf("track line %d: expected at least %d fields, got %d", line, max(latCol, lonCol)+1, len(rec))
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("track line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[lonCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("track line %d: longitude: %w", line, err)
		}
		out = append(out, Coordinate{Latitude: lat, Longitude: lon})
	}
	return out, nil
}

// Loop returns n points evenly spaced on a circle centred on the equator at
// the prime meridian, sized so the closed polygon is lengthM long. It is the
// fallback course when no track file is given.
func Loop(lengthM float64, n int) []Coordinate {
	if n < 3 {
		n = 3
	}
	radius := lengthM / (2 * float64(n) * math.Sin(math.Pi/float64(n)))
	toDeg := 180 / math.Pi / EarthRadiusM
	out := make([]Coordinate, n)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out[i] = Coordinate{
			Latitude:  radius * math.Sin(theta) * toDeg,
			Longitude: radius * math.Cos(theta) * toDeg,
		}
	}
	return out
}
