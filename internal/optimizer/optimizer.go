// Package optimizer evolves throttle/brake genomes with a genetic
// algorithm. Each generation is evaluated on a bounded worker pool and
// merged only once every evaluation has finished.
package optimizer

import (
	"context"
	"iter"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/policy"
)

var logf = monitoring.Component("optimizer")

// Status is the optimizer's lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusEvaluating   Status = "evaluating"
	StatusSelecting    Status = "selecting"
	StatusReproducing  Status = "reproducing"
	StatusConverged    Status = "converged"
	StatusExhausted    Status = "exhausted"
	StatusCancelled    Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusConverged || s == StatusExhausted || s == StatusCancelled
}

// Scorer returns the fitness of a genome. fitness.Evaluator satisfies it.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Evaluate(ctx context.Context, p policy.Policy) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, p policy.Policy) float64

// Evaluate implements Scorer.
func (f ScorerFunc) Evaluate(ctx context.Context, p policy.Policy) float64 { return f(ctx, p) }

// Individual is one member of a population.
type Individual struct {
	Policy         policy.Policy `json:"policy"`
	Fitness        float64       `json:"fitness"`
	GenerationBorn int           `json:"generation_born"`
	evaluated      bool
}

// Summary describes one evaluated generation.
type Summary struct {
	Generation    int     `json:"generation"`
	BestFitness   float64 `json:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness"`
	StdDevFitness float64 `json:"stddev_fitness"`
	BestSoFar     float64 `json:"best_so_far"`
	Evaluations   int     `json:"evaluations"`
	Status        Status  `json:"status"`
}

// State is a snapshot of a running or finished optimization.
type State struct {
	Status      Status      `json:"status"`
	Generation  int         `json:"generation"`
	Evaluations int         `json:"evaluations"`
	Best        *Individual `json:"best,omitempty"`
}

// Outcome is what Run returns.
type Outcome struct {
	Best               Individual `json:"best"`
	InitialBestFitness float64    `json:"initial_best_fitness"`
	History            []Summary  `json:"history"`
	Status             Status     `json:"status"`
	Evaluations        int        `json:"evaluations"`
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithMetrics records evaluations and generations on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// Optimizer runs the genetic algorithm. Iterating Generations restarts the
// search from the configured seed, so only one iteration should be active
// at a time.
type Optimizer struct {
	cfg     config.Config
	scorer  Scorer
	metrics *Metrics
	workers int

	mu    sync.RWMutex
	state State
}

// New returns an optimizer for cfg. cfg must already be validated.
func New(cfg config.Config, scorer Scorer, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:     cfg,
		scorer:  scorer,
		workers: cfg.GA.Workers,
		state:   State{Status: StatusIdle},
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a copy of the current state.
func (o *Optimizer) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.state
	if s.Best != nil {
		b := *s.Best
		b.Policy = b.Policy.Clone()
		s.Best = &b
	}
	return s
}

// Best returns the best individual found so far.
func (o *Optimizer) Best() (Individual, bool) {
	s := o.State()
	if s.Best == nil {
		return Individual{}, false
	}
	return *s.Best, true
}

func (o *Optimizer) setStatus(s Status, gen int) {
	o.mu.Lock()
	o.state.Status = s
	o.state.Generation = gen
	o.mu.Unlock()
}

// offer replaces the best-so-far only on strict improvement.
func (o *Optimizer) offer(ind Individual, evaluations int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Evaluations = evaluations
	if o.state.Best != nil && !(ind.Fitness > o.state.Best.Fitness) {
		return false
	}
	ind.Policy = ind.Policy.Clone()
	o.state.Best = &ind
	return true
}

// Run iterates every generation and returns the outcome.
func (o *Optimizer) Run(ctx context.Context) Outcome {
	var out Outcome
	for s := range o.Generations(ctx) {
		if s.Generation == 0 {
			out.InitialBestFitness = s.BestFitness
		}
		out.History = append(out.History, s)
	}
	st := o.State()
	out.Status = st.Status
	out.Evaluations = st.Evaluations
	if st.Best != nil {
		out.Best = *st.Best
	}
	return out
}

// Generations returns a lazy sequence of per-generation summaries. Each
// iteration starts a fresh search. Breaking out of the loop cancels the
// search; cancelling ctx ends it without yielding the partial generation.
func (o *Optimizer) Generations(ctx context.Context) iter.Seq[Summary] {
	return func(yield func(Summary) bool) {
		o.mu.Lock()
		o.state = State{Status: StatusInitializing}
		o.mu.Unlock()

		ga := o.cfg.GA
		b := newBreeder(o.cfg)
		pop := make([]Individual, ga.PopulationSize)
		for i := range pop {
			pop[i] = Individual{Policy: b.random()}
		}

		evaluations, stagnant := 0, 0
		for gen := 0; gen < ga.Generations; gen++ {
			if ctx.Err() != nil {
				o.finish(StatusCancelled, gen)
				return
			}
			o.setStatus(StatusEvaluating, gen)
			n, err := o.evaluate(ctx, pop)
			evaluations += n
			if err != nil {
				o.finish(StatusCancelled, gen)
				return
			}

			top := pop[ranked(pop)[0]]
			improved := o.offer(top, evaluations)
			best, _ := o.Best()
			o.metrics.observeGeneration(best.Fitness)

			if improved {
				stagnant = 0
			} else {
				stagnant++
			}
			sum := summarize(gen, pop, best.Fitness, evaluations)
			switch {
			case ga.StagnationGenerations > 0 && stagnant >= ga.StagnationGenerations:
				sum.Status = StatusConverged
			case gen == ga.Generations-1:
				sum.Status = StatusExhausted
			default:
				sum.Status = StatusSelecting
			}
			if sum.Status.Done() {
				o.finish(sum.Status, gen)
				logf("generation %d: best %.4f, stopping: %s", gen, best.Fitness, sum.Status)
				yield(sum)
				return
			}
			if !yield(sum) {
				o.finish(StatusCancelled, gen)
				return
			}

			o.setStatus(StatusSelecting, gen)
			next := b.next(pop, gen+1)
			o.setStatus(StatusReproducing, gen)
			pop = next
		}
	}
}

func (o *Optimizer) finish(s Status, gen int) {
	o.setStatus(s, gen)
	if s == StatusCancelled {
		logf("cancelled at generation %d", gen)
	}
}

// evaluate scores every individual that has no cached fitness. Results are
// written to distinct slots, so the population is complete once Wait
// returns. It returns the number of evaluations run.
func (o *Optimizer) evaluate(ctx context.Context, pop []Individual) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	n := 0
	for i := range pop {
		if pop[i].evaluated {
			continue
		}
		n++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			f := o.scorer.Evaluate(gctx, pop[i].Policy)
			o.metrics.observeEvaluation(time.Since(start).Seconds())
			if math.IsNaN(f) {
				f = -math.MaxFloat64
			}
			pop[i].Fitness = f
			pop[i].evaluated = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return n, err
	}
	return n, ctx.Err()
}

func summarize(gen int, pop []Individual, bestSoFar float64, evaluations int) Summary {
	fit := make([]float64, len(pop))
	for i, ind := range pop {
		fit[i] = ind.Fitness
	}
	mean, std := stat.MeanStdDev(fit, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Summary{
		Generation:    gen,
		BestFitness:   fit[floats.MaxIdx(fit)],
		MeanFitness:   mean,
		StdDevFitness: std,
		BestSoFar:     bestSoFar,
		Evaluations:   evaluations,
	}
}
