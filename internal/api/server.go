package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/httputil"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
	"github.com/banshee-data/lapsim/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// MaxListLimit caps the number of runs returned by one list request.
const MaxListLimit = 500

type Server struct {
	runner   *runner.Runner
	db       *db.DB
	gatherer prometheus.Gatherer
}

// NewServer returns a server over r and store. gatherer backs /metrics
// and may be nil, in which case the endpoint is not mounted.
func NewServer(r *runner.Runner, store *db.DB, gatherer prometheus.Gatherer) *Server {
	return &Server{
		runner:   r,
		db:       store,
		gatherer: gatherer,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/simulate", s.handleSimulate)
	mux.HandleFunc("/api/optimize", s.handleOptimize)
	mux.HandleFunc("/api/optimize/active", s.listActive)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.handleRun)
	mux.HandleFunc("/api/runs/{id}/save", s.handleSave)
	mux.HandleFunc("/api/runs/{id}/generations", s.listGenerations)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// streamEvent is one line of a streamed response. Exactly one field is set.
type streamEvent struct {
	Frame      *sim.Frame             `json:"frame,omitempty"`
	Generation *optimizer.Summary     `json:"generation,omitempty"`
	Simulation *runner.SimulateResult `json:"simulation,omitempty"`
	Optimize   *runner.OptimizeResult `json:"optimization,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func wantsStream(r *http.Request) bool {
	v := r.URL.Query().Get("stream")
	return v == "1" || v == "true"
}

// writeRunError maps runner errors onto status codes. Invalid requests are
// the caller's fault; everything else is ours.
func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, runner.ErrInvalidRequest) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req runner.Request
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if !wantsStream(r) {
		out, err := s.runner.Simulate(r.Context(), req, nil)
		if err != nil {
			writeRunError(w, err)
			return
		}
		httputil.WriteJSONOK(w, out)
		return
	}

	// Validate before the 200 goes out so bad requests still get a 400.
	if _, _, err := s.runner.Prepare(req); err != nil {
		writeRunError(w, err)
		return
	}
	stream := httputil.NewNDJSON(w)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	out, err := s.runner.Simulate(ctx, req, func(f sim.Frame) {
		if err := stream.Send(streamEvent{Frame: &f}); err != nil {
			cancel()
		}
	})
	if err != nil {
		_ = stream.Send(streamEvent{Error: err.Error()})
		return
	}
	out.Result.Telemetry = nil
	_ = stream.Send(streamEvent{Simulation: &out})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req runner.Request
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if !wantsStream(r) {
		out, err := s.runner.Optimize(r.Context(), req, nil)
		if err != nil {
			writeRunError(w, err)
			return
		}
		httputil.WriteJSONOK(w, out)
		return
	}

	if _, _, err := s.runner.Prepare(req); err != nil {
		writeRunError(w, err)
		return
	}
	stream := httputil.NewNDJSON(w)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	out, err := s.runner.Optimize(ctx, req, func(sum optimizer.Summary) {
		if err := stream.Send(streamEvent{Generation: &sum}); err != nil {
			cancel()
		}
	})
	if err != nil {
		_ = stream.Send(streamEvent{Error: err.Error()})
		return
	}
	_ = stream.Send(streamEvent{Optimize: &out})
}

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.runner.Active())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	f := db.RunFilter{Limit: 100}
	switch kind := db.Kind(q.Get("kind")); kind {
	case "":
	case db.KindSimulation, db.KindOptimization:
		f.Kind = kind
	default:
		httputil.BadRequest(w, "Invalid 'kind' parameter")
		return
	}
	if v := q.Get("saved"); v != "" {
		saved, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "Invalid 'saved' parameter")
			return
		}
		f.SavedOnly = saved
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxListLimit {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		f.Limit = n
	}

	runs, err := s.db.ListRuns(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, "Failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		run, err := s.db.GetRun(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		httputil.WriteJSONOK(w, run)
	case http.MethodDelete:
		if err := s.db.DeleteRun(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// SaveRequest names a saved run.
type SaveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodPost:
		var req SaveRequest
		if err := httputil.ReadJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.db.SaveRun(r.Context(), id, strings.TrimSpace(req.Name)); err != nil {
			s.writeStoreError(w, err)
			return
		}
		run, err := s.db.GetRun(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		httputil.WriteJSONOK(w, run)
	case http.MethodDelete:
		if err := s.db.UnsaveRun(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listGenerations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	if _, err := s.db.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	gens, err := s.db.Generations(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, "Failed to load generations: "+err.Error())
		return
	}
	if gens == nil {
		gens = []optimizer.Summary{}
	}
	httputil.WriteJSONOK(w, gens)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.runner.Base())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"version": version.String()})
}
