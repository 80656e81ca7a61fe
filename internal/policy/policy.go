// Package policy turns a genome or a fixed rule into throttle and brake commands.
//
// A genome is a row of genes in [-1, 1], one per bucket of lap distance
// (or elapsed time). Positive genes are throttle fractions and negative
// genes are brake fractions. Every controller is wrapped by a StopGuard
// that owns the final approach to each stop.
package policy

import (
	"fmt"
	"math"

	"github.com/banshee-data/lapsim/internal/config"
)

// Policy is a genome plus the rules for reading it back.
type Policy struct {
	Genes         []float64 `json:"genes"`
	Mode          string    `json:"mode"`
	Interpolation string    `json:"interpolation"`
}

// New returns a Policy over a copy of genes using the lookup rules from cfg.
func New(genes []float64, cfg config.Policy) Policy {
	g := make([]float64, len(genes))
	copy(g, genes)
	return Policy{Genes: g, Mode: cfg.ControlMode, Interpolation: cfg.Interpolation}
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	p.Genes = append([]float64(nil), p.Genes...)
	return p
}

// Validate checks the genes and lookup rules.
func (p Policy) Validate() error {
	if len(p.Genes) == 0 {
		return fmt.Errorf("policy has no genes")
	}
	for i, g := range p.Genes {
		if math.IsNaN(g) || g < -1 || g > 1 {
			return fmt.Errorf("gene %d out of range [-1, 1]: %v", i, g)
		}
	}
	if p.Mode != config.ControlDistance && p.Mode != config.ControlTime {
		return fmt.Errorf("unknown control mode %q", p.Mode)
	}
	if p.Interpolation != config.InterpolateNearest && p.Interpolation != config.InterpolateLinear {
		return fmt.Errorf("unknown interpolation %q", p.Interpolation)
	}
	return nil
}

// Value reads the genome at fraction x of the control range. Bucket i
// covers [i/n, (i+1)/n); linear interpolation runs between bucket centres.
// Lookups outside the range clamp to the nearest bucket.
func (p Policy) Value(x float64) float64 {
	n := len(p.Genes)
	if n == 0 {
		return 0
	}
	if math.IsNaN(x) {
		x = 0
	}
	pos := x * float64(n)

	if p.Interpolation != config.InterpolateLinear || n == 1 {
		return p.Genes[clampIndex(int(math.Floor(pos)), n)]
	}

	u := pos - 0.5
	if u <= 0 {
		return p.Genes[0]
	}
	if u >= float64(n-1) {
		return p.Genes[n-1]
	}
	i := int(math.Floor(u))
	frac := u - float64(i)
	return p.Genes[i]*(1-frac) + p.Genes[i+1]*frac
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// ClampGene limits a gene to [-1, 1]; NaN becomes 0.
func ClampGene(g float64) float64 {
	switch {
	case math.IsNaN(g):
		return 0
	case g < -1:
		return -1
	case g > 1:
		return 1
	}
	return g
}
