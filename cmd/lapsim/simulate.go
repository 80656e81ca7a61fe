package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/lapsim/internal/api"
	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/runner"
	"github.com/banshee-data/lapsim/internal/sim"
)

func handleSimulate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("simulate", stderr)
	var common commonFlags
	common.register(fs)
	policyPath := fs.String("policy", "", "Best-policy or bare policy JSON file (default: baseline rule)")
	telemetryPath := fs.String("telemetry", "", "Write telemetry CSV to this file")
	name := fs.String("name", "", "Name recorded with the run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	base := config.Defaults()
	var doc *policy.BestPolicy
	if *policyPath != "" {
		d, err := policy.ReadFile(*policyPath)
		if err != nil {
			return err
		}
		doc = &d
		// A best-policy document carries the config it was scored with.
		base = d.Config
	}
	cfg, err := common.loadConfig(base)
	if err != nil {
		return err
	}
	coords, err := common.loadTrack()
	if err != nil {
		return err
	}

	req := runner.Request{Name: *name, Track: coords}
	if doc != nil {
		req.Policy = &doc.Policy
	}

	var out runner.SimulateResult
	if common.server != "" {
		if *telemetryPath != "" {
			return fmt.Errorf("--telemetry is not supported with --server")
		}
		req.Config = cfg.File()
		out, err = api.NewClient(common.server, nil).Simulate(ctx, req)
		if err != nil {
			return err
		}
	} else {
		var opts []runner.Option
		if common.dbPath != "" {
			store, err := db.NewDB(common.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, runner.WithStore(store))
		}
		r := runner.New(cfg, course(coords), opts...)

		if doc != nil && doc.TrackFingerprint != "" {
			if _, tr, err := r.Prepare(req); err == nil && tr.Fingerprint() != doc.TrackFingerprint {
				monitoring.Logf("warning: policy was optimized on track %s, simulating on %s",
					doc.TrackFingerprint, tr.Fingerprint())
			}
		}

		var sink sim.Sink
		var tw *sim.TelemetryWriter
		if *telemetryPath != "" {
			f, err := os.Create(filepath.Clean(*telemetryPath))
			if err != nil {
				return fmt.Errorf("failed to create telemetry file: %w", err)
			}
			defer f.Close()
			tw = sim.NewTelemetryWriter(f)
			sink = tw.Write
		}

		out, err = r.Simulate(ctx, req, sink)
		if err != nil {
			return err
		}
		if tw != nil {
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("failed to write telemetry: %w", err)
			}
		}
	}

	out.Result.Telemetry = nil
	return writeJSON(stdout, out)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
