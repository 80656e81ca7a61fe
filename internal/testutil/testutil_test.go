package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/lapsim/internal/config"
)

func TestConfig(t *testing.T) {
	c := Config(t, func(c *config.Config) { c.Simulation.TotalLaps = 1 })
	if c.Simulation.TotalLaps != 1 {
		t.Errorf("TotalLaps = %d, want 1", c.Simulation.TotalLaps)
	}
	if c.Vehicle.MassKg != config.Defaults().Vehicle.MassKg {
		t.Error("unmutated fields should keep defaults")
	}
}

func TestLoopTrack(t *testing.T) {
	tr := LoopTrack(t, 1000, 100, 2)
	if len(tr.Stops()) != 2 {
		t.Errorf("stops = %d, want 2", len(tr.Stops()))
	}
}

func TestJSONHelpers(t *testing.T) {
	req := NewJSONRequest(t, http.MethodPost, "/api/simulate", map[string]int{"laps": 2})
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	w := httptest.NewRecorder()
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"laps":2}`))
	AssertStatusCode(t, w.Code, http.StatusCreated)

	var got map[string]int
	DecodeJSON(t, w, &got)
	if got["laps"] != 2 {
		t.Errorf("decoded %v", got)
	}

	if bare := NewJSONRequest(t, http.MethodGet, "/", nil); bare.Header.Get("Content-Type") != "" {
		t.Error("nil body should not set a content type")
	}
}
