package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/track"
	"github.com/banshee-data/lapsim/internal/version"
)

// Fallback course used when no track file is given.
const (
	defaultLoopLengthM = 1600.0
	defaultLoopPoints  = 160
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lapsim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errors.New("missing command")
	}

	command, args := args[0], args[1:]
	switch command {
	case "simulate":
		return handleSimulate(ctx, args, stdout, stderr)
	case "optimize":
		return handleOptimize(ctx, args, stdout, stderr)
	case "history":
		return handleHistory(ctx, args, stdout, stderr)
	case "migrate":
		return handleMigrate(args, stdout, stderr)
	case "serve":
		return handleServe(ctx, args, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `lapsim - lap energy simulator and policy optimizer

Usage: lapsim <command> [options]

Commands:
  simulate   Run one simulation with the baseline rule or a saved policy
  optimize   Search for a throttle/brake policy with the genetic optimizer
  history    List, show, save, unsave or delete recorded runs
  migrate    Manage history database migrations
  serve      Serve the HTTP API and, optionally, the gRPC service
  version    Show lapsim version
  help       Show this help message

Common Flags:
  --config <file>      JSON or YAML config; omitted keys keep their defaults
  --track <file>       Track CSV with latitude/longitude columns
                       Defaults to a synthetic 1600 m loop
  --laps <n>           Override total_laps_to_simulate
  --seed <n>           Override ga_seed
  --db <file>          History database (simulate/optimize record runs when set)
  --server <url>       Run against a lapsim server instead of in-process

Examples:
  lapsim simulate --track course.csv --telemetry run.csv
  lapsim optimize --config ga.yaml --out best_policy.json --db lapsim.db
  lapsim simulate --policy best_policy.json
  lapsim history --db lapsim.db list --kind optimization
  lapsim serve --db lapsim.db --listen :8080 --grpc-listen :9090
`)
}

// commonFlags are shared by the commands that run the simulator.
type commonFlags struct {
	configPath string
	trackPath  string
	laps       int
	seed       uint64
	dbPath     string
	server     string
	fs         *flag.FlagSet
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	c.fs = fs
	fs.StringVar(&c.configPath, "config", "", "JSON or YAML config file")
	fs.StringVar(&c.trackPath, "track", "", "Track CSV file (default: synthetic loop)")
	fs.IntVar(&c.laps, "laps", 0, "Override total_laps_to_simulate")
	fs.Uint64Var(&c.seed, "seed", 0, "Override ga_seed")
	fs.StringVar(&c.dbPath, "db", "", "History database path")
	fs.StringVar(&c.server, "server", "", "lapsim server URL")
}

func (c *commonFlags) isSet(name string) bool {
	set := false
	c.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadConfig returns base with the file and flag overrides applied. base
// is used when no --config is given.
func (c *commonFlags) loadConfig(base config.Config) (config.Config, error) {
	cfg := base
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(c.configPath); err != nil {
			return config.Config{}, err
		}
	}
	var patch config.File
	if c.isSet("laps") {
		patch.TotalLaps = &c.laps
	}
	if c.isSet("seed") {
		patch.GASeed = &c.seed
	}
	return config.Override(cfg, patch)
}

// loadTrack returns the coordinates from --track, or nil when no file was
// given.
func (c *commonFlags) loadTrack() ([]track.Coordinate, error) {
	if c.trackPath == "" {
		return nil, nil
	}
	f, err := os.Open(filepath.Clean(c.trackPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open track file: %w", err)
	}
	defer f.Close()
	return track.ReadCSV(f)
}

func course(coords []track.Coordinate) []track.Coordinate {
	if len(coords) > 0 {
		return coords
	}
	return track.Loop(defaultLoopLengthM, defaultLoopPoints)
}
