package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/httputil"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/runner"
)

// Client talks to a running lapsim server.
type Client struct {
	c *httputil.JSONClient
}

// NewClient returns a client for the server at baseURL. doer may be nil.
func NewClient(baseURL string, doer httputil.Doer) *Client {
	return &Client{c: httputil.NewJSONClient(baseURL, doer)}
}

// Simulate runs a simulation on the server.
func (c *Client) Simulate(ctx context.Context, req runner.Request) (runner.SimulateResult, error) {
	var out runner.SimulateResult
	err := c.c.PostJSON(ctx, "/api/simulate", req, &out)
	return out, err
}

// Optimize runs an optimization on the server and waits for it to finish.
func (c *Client) Optimize(ctx context.Context, req runner.Request) (runner.OptimizeResult, error) {
	var out runner.OptimizeResult
	err := c.c.PostJSON(ctx, "/api/optimize", req, &out)
	return out, err
}

// ListRuns lists recorded runs, newest first.
func (c *Client) ListRuns(ctx context.Context, f db.RunFilter) ([]db.Run, error) {
	q := url.Values{}
	if f.Kind != "" {
		q.Set("kind", string(f.Kind))
	}
	if f.SavedOnly {
		q.Set("saved", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []db.Run
	err := c.c.GetJSON(ctx, path, &out)
	return out, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id string) (db.Run, error) {
	var out db.Run
	err := c.c.GetJSON(ctx, "/api/runs/"+url.PathEscape(id), &out)
	return out, err
}

// Generations fetches the convergence history of an optimization run.
func (c *Client) Generations(ctx context.Context, id string) ([]optimizer.Summary, error) {
	var out []optimizer.Summary
	err := c.c.GetJSON(ctx, "/api/runs/"+url.PathEscape(id)+"/generations", &out)
	return out, err
}

// SaveRun marks a run as saved under name.
func (c *Client) SaveRun(ctx context.Context, id, name string) (db.Run, error) {
	var out db.Run
	err := c.c.PostJSON(ctx, "/api/runs/"+url.PathEscape(id)+"/save", SaveRequest{Name: name}, &out)
	return out, err
}

// UnsaveRun removes a run from the saved list.
func (c *Client) UnsaveRun(ctx context.Context, id string) error {
	return c.c.Do(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(id)+"/save", nil, nil)
}

// DeleteRun removes a run from history.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.c.Do(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(id), nil, nil)
}

// Config fetches the server's base configuration.
func (c *Client) Config(ctx context.Context) (config.Config, error) {
	var out config.Config
	err := c.c.GetJSON(ctx, "/api/config", &out)
	return out, err
}
