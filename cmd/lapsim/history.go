package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/lapsim/internal/api"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/optimizer"
)

// historyStore is satisfied by the local database and, through
// remoteHistory, by a server.
type historyStore interface {
	ListRuns(ctx context.Context, f db.RunFilter) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (db.Run, error)
	Generations(ctx context.Context, id string) ([]optimizer.Summary, error)
	SaveRun(ctx context.Context, id, name string) error
	UnsaveRun(ctx context.Context, id string) error
	DeleteRun(ctx context.Context, id string) error
}

type remoteHistory struct {
	*api.Client
}

func (r remoteHistory) SaveRun(ctx context.Context, id, name string) error {
	_, err := r.Client.SaveRun(ctx, id, name)
	return err
}

func handleHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	dbPath := fs.String("db", "lapsim.db", "History database path")
	server := fs.String("server", "", "lapsim server URL (overrides --db)")
	kind := fs.String("kind", "", "List only simulation or optimization runs")
	saved := fs.Bool("saved", false, "List only saved runs")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var store historyStore
	if *server != "" {
		store = remoteHistory{api.NewClient(*server, nil)}
	} else {
		database, err := db.NewDB(*dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		store = database
	}

	rest := fs.Args()
	action := "list"
	if len(rest) > 0 {
		action, rest = rest[0], rest[1:]
	}
	need := func(n int, usage string) error {
		if len(rest) != n {
			return fmt.Errorf("usage: lapsim history %s", usage)
		}
		return nil
	}

	switch action {
	case "list":
		runs, err := store.ListRuns(ctx, db.RunFilter{Kind: db.Kind(*kind), SavedOnly: *saved, Limit: *limit})
		if err != nil {
			return err
		}
		return printRuns(stdout, runs)
	case "show":
		if err := need(1, "show <run-id>"); err != nil {
			return err
		}
		run, err := store.GetRun(ctx, rest[0])
		if err != nil {
			return err
		}
		gens, err := store.Generations(ctx, rest[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, struct {
			db.Run
			Generations []optimizer.Summary `json:"generations,omitempty"`
		}{run, gens})
	case "save":
		if len(rest) != 1 && len(rest) != 2 {
			return errors.New("usage: lapsim history save <run-id> [name]")
		}
		name := ""
		if len(rest) == 2 {
			name = rest[1]
		}
		if err := store.SaveRun(ctx, rest[0], name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved %s\n", rest[0])
		return nil
	case "unsave":
		if err := need(1, "unsave <run-id>"); err != nil {
			return err
		}
		if err := store.UnsaveRun(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "unsaved %s\n", rest[0])
		return nil
	case "delete":
		if err := need(1, "delete <run-id>"); err != nil {
			return err
		}
		if err := store.DeleteRun(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %s\n", rest[0])
		return nil
	default:
		return fmt.Errorf("unknown history action %q (want list, show, save, unsave or delete)", action)
	}
}

func printRuns(w io.Writer, runs []db.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tKIND\tCREATED\tNAME\tAVG KM/H\tKWH\tREASON\tFITNESS\tSAVED")
	for _, r := range runs {
		fit := "-"
		if r.Fitness != nil {
			fit = fmt.Sprintf("%.4f", *r.Fitness)
		}
		name := r.Name
		if r.Saved && r.SavedName != "" {
			name = r.SavedName
		}
		saved := ""
		if r.Saved {
			saved = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%.4f\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.CreatedAt.Local().Format(time.DateTime), name,
			r.Summary.AverageSpeedKmh, r.Summary.TotalEnergyKWh, r.Summary.Reason, fit, saved)
	}
	return tw.Flush()
}

func handleMigrate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	dbPath := fs.String("db", "lapsim.db", "History database path")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			db.PrintMigrateHelp(stdout)
		}
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
