package optimizer

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/policy"
)

// breeder holds the random streams used to build generations. Every draw
// comes from one PCG source so a seed reproduces a run exactly.
type breeder struct {
	ga     config.GA
	pcfg   config.Policy
	rng    *rand.Rand
	genes  distuv.Uniform
	noise  distuv.Normal
	bucket int
}

func newBreeder(cfg config.Config) *breeder {
	src := rand.NewPCG(cfg.GA.Seed, cfg.GA.Seed^0x9e3779b97f4a7c15)
	return &breeder{
		ga:     cfg.GA,
		pcfg:   cfg.Policy,
		rng:    rand.New(src),
		genes:  distuv.Uniform{Min: -1, Max: 1, Src: src},
		noise:  distuv.Normal{Mu: 0, Sigma: cfg.GA.MutationSigma, Src: src},
		bucket: cfg.Policy.Buckets,
	}
}

// random returns a genome with every gene drawn uniformly from [-1, 1].
func (b *breeder) random() policy.Policy {
	genes := make([]float64, b.bucket)
	for i := range genes {
		genes[i] = b.genes.Rand()
	}
	return policy.Policy{Genes: genes, Mode: b.pcfg.ControlMode, Interpolation: b.pcfg.Interpolation}
}

// ranked returns population indices ordered by fitness, best first. Equal
// fitness keeps the lower index first.
func ranked(pop []Individual) []int {
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return pop[idx[a]].Fitness > pop[idx[b]].Fitness
	})
	return idx
}

// next builds generation gen from an evaluated population.
func (b *breeder) next(pop []Individual, gen int) []Individual {
	out := make([]Individual, 0, len(pop))
	for _, i := range ranked(pop)[:b.ga.EliteCount] {
		e := pop[i]
		e.Policy = e.Policy.Clone()
		out = append(out, e)
	}
	for len(out) < len(pop) {
		a := pop[b.selectParent(pop)]
		c := pop[b.selectParent(pop)]
		child := b.crossover(a.Policy, c.Policy)
		b.mutate(child.Genes)
		out = append(out, Individual{Policy: child, GenerationBorn: gen})
	}
	return out
}

func (b *breeder) selectParent(pop []Individual) int {
	if b.ga.Selection == config.SelectRoulette {
		return b.roulette(pop)
	}
	return b.tournament(pop)
}

// tournament draws TournamentSize contenders with replacement. The fittest
// wins; ties go to the lower index.
func (b *breeder) tournament(pop []Individual) int {
	best := b.rng.IntN(len(pop))
	for k := 1; k < b.ga.TournamentSize; k++ {
		c := b.rng.IntN(len(pop))
		if pop[c].Fitness > pop[best].Fitness || (pop[c].Fitness == pop[best].Fitness && c < best) {
			best = c
		}
	}
	return best
}

// roulette picks with probability proportional to fitness shifted so the
// worst individual has weight zero. A flat population is picked uniformly.
func (b *breeder) roulette(pop []Individual) int {
	lo := math.Inf(1)
	for _, ind := range pop {
		lo = math.Min(lo, ind.Fitness)
	}
	var total float64
	for _, ind := range pop {
		total += ind.Fitness - lo
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return b.rng.IntN(len(pop))
	}
	r := b.rng.Float64() * total
	for i, ind := range pop {
		r -= ind.Fitness - lo
		if r < 0 {
			return i
		}
	}
	return len(pop) - 1
}

// crossover takes each gene from parent b with probability CrossoverRate.
func (b *breeder) crossover(pa, pb policy.Policy) policy.Policy {
	child := pa.Clone()
	for i := range child.Genes {
		if i < len(pb.Genes) && b.rng.Float64() < b.ga.CrossoverRate {
			child.Genes[i] = pb.Genes[i]
		}
	}
	return child
}

// mutate perturbs each gene with probability MutationRate by normal noise
// clipped to two sigma, then clamps it back into [-1, 1].
func (b *breeder) mutate(genes []float64) {
	limit := 2 * b.ga.MutationSigma
	for i := range genes {
		if b.rng.Float64() >= b.ga.MutationRate {
			continue
		}
		d := 0.0
		if b.ga.MutationSigma > 0 {
			d = math.Max(-limit, math.Min(limit, b.noise.Rand()))
		}
		genes[i] = policy.ClampGene(genes[i] + d)
	}
}
