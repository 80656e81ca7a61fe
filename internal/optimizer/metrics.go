package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the optimizer's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Evaluations       prometheus.Counter
	Generations       prometheus.Counter
	BestFitness       prometheus.Gauge
	EvaluationSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapsim",
			Subsystem: "optimizer",
			Name:      "evaluations_total",
			Help:      "Fitness evaluations run.",
		}),
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapsim",
			Subsystem: "optimizer",
			Name:      "generations_total",
			Help:      "Generations evaluated.",
		}),
		BestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lapsim",
			Subsystem: "optimizer",
			Name:      "best_fitness",
			Help:      "Best fitness found by the most recent run.",
		}),
		EvaluationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lapsim",
			Subsystem: "optimizer",
			Name:      "evaluation_seconds",
			Help:      "Wall time of a single fitness evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Evaluations, m.Generations, m.BestFitness, m.EvaluationSeconds)
	}
	return m
}

func (m *Metrics) observeEvaluation(seconds float64) {
	if m == nil {
		return
	}
	m.Evaluations.Inc()
	m.EvaluationSeconds.Observe(seconds)
}

func (m *Metrics) observeGeneration(bestSoFar float64) {
	if m == nil {
		return
	}
	m.Generations.Inc()
	m.BestFitness.Set(bestSoFar)
}
