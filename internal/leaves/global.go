package leaves

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/leafwalk/internal/opt"
	"github.com/cwbudde/leafwalk/internal/walker"
)

// GlobalParams configures FitGlobal.
type GlobalParams struct {
	// Bound limits every leaf value to [-Bound, Bound].
	Bound float64

	// Workers bounds the goroutines used for loss sums.
	Workers int

	Logger *slog.Logger
}

func (p GlobalParams) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// FitGlobal estimates leaf values with a derivative-free optimizer searching
// [-Bound, Bound] for every leaf value. It serves as a baseline for the
// walker-based Fit.
func FitGlobal(problem *Problem, loss Loss, optimizer opt.Optimizer, params GlobalParams) (*Result, error) {
	if err := prepare(problem, loss); err != nil {
		return nil, err
	}
	if optimizer == nil {
		return nil, &ProblemError{Field: "Optimizer", Reason: "cannot be nil"}
	}
	bound := params.Bound
	if bound <= 0 {
		return nil, &ProblemError{Field: "Bound", Reason: "must be positive"}
	}

	dims, leaves := problem.Dimensions, problem.Leaves
	dim := dims * leaves
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range lower {
		lower[i] = -bound
		upper[i] = bound
	}

	ev := newEvaluator(problem, loss, max(params.Workers, 1))
	point := walker.Point(walker.NewStep(dims, leaves))
	initial := ev.value(point)

	log := params.logger()
	log.Info("Starting global leaf search", "loss", loss.Name(), "params", dim, "bound", bound)

	best, cost, err := optimizer.Run(func(x []float64) float64 {
		unflatten(x, point)
		return ev.value(point)
	}, lower, upper, dim)
	if err != nil {
		return nil, fmt.Errorf("global leaf search failed: %w", err)
	}

	values := walker.Point(walker.NewStep(dims, leaves))
	unflatten(best, values)

	log.Info("Global leaf search complete", "initial_loss", initial, "final_loss", cost)

	return &Result{
		LeafValues:  values,
		StepSum:     walker.Step(values.Clone()),
		InitialLoss: initial,
		FinalLoss:   cost,
	}, nil
}

// unflatten copies x, laid out dimension-major, into point.
func unflatten(x []float64, point walker.Point) {
	for d := range point {
		copy(point[d], x[d*len(point[d]):])
	}
}
