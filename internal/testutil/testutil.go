// Package testutil provides shared test fixtures for the simulator packages.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/track"
)

// Config returns the defaults with mutate applied, failing the test if the
// result does not validate.
func Config(t testing.TB, mutate func(*config.Config)) config.Config {
	t.Helper()
	c := config.Defaults()
	if mutate != nil {
		mutate(&c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return c
}

// LoopTrack builds a circular track of the given length with points evenly
// spaced and stopsPerLap stops.
func LoopTrack(t testing.TB, lengthM float64, points, stopsPerLap int) *track.Track {
	t.Helper()
	tr, err := track.Build(track.Loop(lengthM, points), stopsPerLap)
	if err != nil {
		t.Fatalf("build loop track: %v", err)
	}
	return tr
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test HTTP request with body encoded as JSON.
// A nil body sends no content.
func NewJSONRequest(t testing.TB, method, path string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, path, nil)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode request body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes the recorder body into v.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
