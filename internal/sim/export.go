package sim

import (
	"encoding/csv"
	"io"
	"strconv"
)

var telemetryHeader = []string{
	"time_s", "distance_m", "speed_mps", "speed_kmh", "power_w", "energy_j", "motion_state", "lap_index",
}

// TelemetryWriter writes frames as CSV rows. It can be used directly as a
// Sink through its Write method; the first write error is kept and every
// later frame is dropped.
type TelemetryWriter struct {
	w      *csv.Writer
	header bool
	err    error
}

// NewTelemetryWriter returns a writer that emits a header before the first row.
func NewTelemetryWriter(w io.Writer) *TelemetryWriter {
	return &TelemetryWriter{w: csv.NewWriter(w)}
}

// Write appends one frame.
func (t *TelemetryWriter) Write(f Frame) {
	if t.err != nil {
		return
	}
	if !t.header {
		t.header = true
		if t.err = t.w.Write(telemetryHeader); t.err != nil {
			return
		}
	}
	t.err = t.w.Write([]string{
		formatFloat(f.TimeS),
		formatFloat(f.DistanceM),
		formatFloat(f.SpeedMPS),
		formatFloat(f.SpeedMPS * 3.6),
		formatFloat(f.PowerW),
		formatFloat(f.EnergyJ),
		f.Motion.String(),
		strconv.Itoa(f.LapIndex),
	})
}

// Flush writes buffered rows and returns the first error seen.
func (t *TelemetryWriter) Flush() error {
	t.w.Flush()
	if t.err != nil {
		return t.err
	}
	return t.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
