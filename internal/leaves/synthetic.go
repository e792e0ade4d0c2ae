package leaves

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/leafwalk/internal/walker"
)

// SyntheticConfig describes a generated tree fragment.
type SyntheticConfig struct {
	Samples    int
	Leaves     int
	Dimensions int

	// Noise is the standard deviation added to regression targets.
	Noise float64

	// Binary draws 0/1 targets from the sigmoid of the noiseless score.
	Binary bool

	Seed int64
}

// Synthetic generates a problem whose samples are spread uniformly over the
// leaves, together with the leaf values used to generate it.
func Synthetic(cfg SyntheticConfig) (*Problem, walker.Point, error) {
	if cfg.Samples <= 0 || cfg.Leaves <= 0 || cfg.Dimensions <= 0 {
		return nil, nil, fmt.Errorf("samples, leaves and dimensions must be positive, got %d, %d, %d",
			cfg.Samples, cfg.Leaves, cfg.Dimensions)
	}
	if cfg.Noise < 0 {
		return nil, nil, fmt.Errorf("noise cannot be negative, got %g", cfg.Noise)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	truth := walker.Point(walker.NewStep(cfg.Dimensions, cfg.Leaves))
	for d := range truth {
		for leaf := range truth[d] {
			truth[d][leaf] = 2 * rng.NormFloat64()
		}
	}

	p := &Problem{
		Dimensions: cfg.Dimensions,
		Leaves:     cfg.Leaves,
		LeafOf:     make([]int, cfg.Samples),
		Baseline:   walker.NewStep(cfg.Dimensions, cfg.Samples),
		Targets:    walker.NewStep(cfg.Dimensions, cfg.Samples),
	}
	for i := range p.LeafOf {
		p.LeafOf[i] = rng.Intn(cfg.Leaves)
	}
	for d := 0; d < cfg.Dimensions; d++ {
		for i := 0; i < cfg.Samples; i++ {
			p.Baseline[d][i] = 0.5 * rng.NormFloat64()
			score := p.Baseline[d][i] + truth[d][p.LeafOf[i]]
			if cfg.Binary {
				if rng.Float64() < sigmoid(score) {
					p.Targets[d][i] = 1
				}
				continue
			}
			p.Targets[d][i] = score + cfg.Noise*rng.NormFloat64()
		}
	}

	return p, truth, nil
}
