package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopSize is the smallest population mayfly v0.1.0 accepts.
const minPopSize = 20

// MayflyAdapter runs the Mayfly swarm optimiser behind the Optimizer interface.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a seeded Mayfly optimizer.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the search. Mayfly only supports one bound for every
// dimension, so it searches the enclosing box and eval always sees
// parameters clamped to the per-dimension bounds.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if dim <= 0 {
		return nil, 0, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if len(lower) < dim || len(upper) < dim {
		return nil, 0, fmt.Errorf("bounds cover %d/%d of %d dimensions", len(lower), len(upper), dim)
	}
	if m.popSize < minPopSize {
		return nil, 0, fmt.Errorf("population size %d below mayfly minimum %d", m.popSize, minPopSize)
	}
	if m.maxIters <= 0 {
		return nil, 0, fmt.Errorf("max iterations must be positive, got %d", m.maxIters)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < dim; i++ {
		if lower[i] > upper[i] {
			return nil, 0, fmt.Errorf("dimension %d: lower bound %g above upper bound %g", i, lower[i], upper[i])
		}
		lo = math.Min(lo, lower[i])
		hi = math.Max(hi, upper[i])
	}

	scratch := make([]float64, dim)
	clamped := func(x []float64) []float64 {
		for i := range scratch {
			scratch[i] = math.Max(lower[i], math.Min(upper[i], x[i]))
		}
		return scratch
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 { return eval(clamped(x)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	best := append([]float64(nil), clamped(result.GlobalBest.Position)...)
	cost := eval(best)

	slog.Debug("Mayfly search complete", "dim", dim, "iters", m.maxIters, "pop", m.popSize, "cost", cost)
	return best, cost, nil
}
