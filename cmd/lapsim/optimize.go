package main

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/lapsim/internal/api"
	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/policy"
	"github.com/banshee-data/lapsim/internal/runner"
)

func handleOptimize(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("optimize", stderr)
	var common commonFlags
	common.register(fs)
	outPath := fs.String("out", "best_policy.json", "Write the best policy here (empty to skip)")
	name := fs.String("name", "", "Name recorded with the run")
	quiet := fs.Bool("quiet", false, "Do not print per-generation progress")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.loadConfig(config.Defaults())
	if err != nil {
		return err
	}
	coords, err := common.loadTrack()
	if err != nil {
		return err
	}
	req := runner.Request{Name: *name, Track: coords}

	progress := func(s optimizer.Summary) {
		if *quiet {
			return
		}
		fmt.Fprintf(stdout, "gen %3d  best %12.4f  mean %12.4f  std %10.4f  best-so-far %12.4f  evals %d\n",
			s.Generation, s.BestFitness, s.MeanFitness, s.StdDevFitness, s.BestSoFar, s.Evaluations)
	}

	var (
		out         runner.OptimizeResult
		fingerprint string
	)
	if common.server != "" {
		client := api.NewClient(common.server, nil)
		req.Config = cfg.File()
		out, err = client.Optimize(ctx, req)
		if err != nil {
			return err
		}
		for _, s := range out.Outcome.History {
			progress(s)
		}
		if out.RunID != "" {
			if run, err := client.GetRun(ctx, out.RunID); err == nil {
				fingerprint = run.TrackFingerprint
			}
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
		_, tr, err := r.Prepare(req)
		if err != nil {
			return err
		}
		fingerprint = tr.Fingerprint()
		out, err = r.Optimize(ctx, req, progress)
		if err != nil {
			return err
		}
	}

	best := out.Outcome.Best
	fmt.Fprintf(stdout, "status %s after %d evaluations\n", out.Outcome.Status, out.Outcome.Evaluations)
	fmt.Fprintf(stdout, "best fitness %.4f (initial best %.4f), born in generation %d\n",
		best.Fitness, out.Outcome.InitialBestFitness, best.GenerationBorn)
	fmt.Fprintf(stdout, "best policy: %.2f km/h average, %.4f kWh, %d stop violations, %s\n",
		out.Result.AverageSpeedKmh, out.Result.TotalEnergyKWh, out.Result.StopViolations, out.Result.Reason)
	if out.RunID != "" {
		fmt.Fprintf(stdout, "recorded as run %s\n", out.RunID)
	}

	if *outPath == "" {
		return nil
	}
	doc := policy.BestPolicy{
		Policy:           best.Policy,
		Fitness:          best.Fitness,
		Generation:       best.GenerationBorn,
		TrackFingerprint: fingerprint,
		Config:           cfg,
	}
	if err := policy.WriteFile(*outPath, doc); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *outPath)
	return nil
}
