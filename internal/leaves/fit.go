package leaves

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/leafwalk/internal/walker"
)

// Result holds fitted leaf values and walk statistics.
type Result struct {
	// LeafValues is [dim][leaf].
	LeafValues walker.Point
	// StepSum is the total of accepted steps; equal to LeafValues for fits
	// that start from zero.
	StepSum walker.Step

	InitialLoss float64
	FinalLoss   float64

	// Walk aggregates the walker results (summed over leaves in leafwise
	// mode).
	Walk walker.Result
}

// Fit estimates the leaf values of problem under loss, starting from zero.
func Fit(problem *Problem, loss Loss, params Params) (*Result, error) {
	if err := prepare(problem, loss); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	log := params.logger()
	log.Info("Starting leaf estimation",
		"loss", loss.Name(),
		"method", params.Method.String(),
		"backtracking", params.Backtracking.String(),
		"leafwise", params.Leafwise,
		"leaves", problem.Leaves,
		"dimensions", problem.Dimensions,
		"samples", problem.Samples(),
		"iterations", params.Iterations,
	)

	var (
		result *Result
		err    error
	)
	if params.Leafwise {
		result, err = fitLeafwise(problem, loss, params)
	} else {
		result, err = fitPerLeaf(problem, loss, params)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Leaf estimation complete",
		"initial_loss", result.InitialLoss,
		"final_loss", result.FinalLoss,
		"accepted", result.Walk.Accepted,
		"rejected", result.Walk.Rejected,
		"exhausted", result.Walk.Exhausted,
	)
	return result, nil
}

func prepare(problem *Problem, loss Loss) error {
	if problem == nil {
		return &ProblemError{Field: "Problem", Reason: "cannot be nil"}
	}
	if loss == nil {
		return &ProblemError{Field: "Loss", Reason: "cannot be nil"}
	}
	if err := problem.Validate(); err != nil {
		return err
	}
	if tc, ok := loss.(targetChecker); ok {
		if err := tc.CheckTargets(problem.Targets); err != nil {
			return err
		}
	}
	return nil
}

func walkerConfig(problem *Problem, params Params, layout walker.Layout) walker.Config {
	return walker.Config{
		Trivial:    params.Backtracking == BacktrackingNo,
		Iterations: params.Iterations,
		Leaves:     problem.Leaves,
		Dimensions: problem.Dimensions,
		Layout:     layout,
		Logger:     params.Logger,
	}
}

// fitPerLeaf runs a single walk over the whole [dim][leaf] point.
func fitPerLeaf(problem *Problem, loss Loss, params Params) (*Result, error) {
	ev := newEvaluator(problem, loss, params.Workers)

	cfg := walkerConfig(problem, params, walker.LayoutPerLeaf)
	if params.OnEvent != nil {
		cfg.OnEvent = func(e walker.Event) { params.OnEvent(-1, e) }
	}
	w, err := walker.New(cfg, walker.Funcs{
		Step: ev.stepFunc(params),
		Loss: ev.value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create walker: %w", err)
	}

	point := walker.Point(walker.NewStep(problem.Dimensions, problem.Leaves))
	stepSum := walker.NewStep(problem.Dimensions, problem.Leaves)

	var initial float64
	if cfg.Trivial {
		initial = ev.value(point)
	}
	res := w.Walk(&point, stepSum)

	result := &Result{
		LeafValues:  point,
		StepSum:     stepSum,
		InitialLoss: res.InitialLoss,
		FinalLoss:   res.FinalLoss,
		Walk:        res,
	}
	if cfg.Trivial {
		result.InitialLoss = initial
		result.FinalLoss = ev.value(point)
	}
	return result, nil
}

// fitLeafwise runs one independent walk per leaf, up to params.Workers at a
// time. Each walk sees a [dim][1] point holding only its own leaf's values.
// A panic in any walk is raised again on the caller's goroutine once all
// walks have stopped.
func fitLeafwise(problem *Problem, loss Loss, params Params) (*Result, error) {
	dims, leaves := problem.Dimensions, problem.Leaves
	groups := problem.leafSamples()

	values := walker.NewStep(dims, leaves)
	sums := walker.NewStep(dims, leaves)
	walks := make([]walker.Result, leaves)

	panics := make([]any, leaves)

	var mu sync.Mutex
	log := params.logger()

	g := new(errgroup.Group)
	g.SetLimit(params.Workers)
	for leaf := 0; leaf < leaves; leaf++ {
		if len(groups[leaf]) == 0 {
			log.Debug("Skipping empty leaf", "leaf", leaf)
			continue
		}
		g.Go(func() error {
			defer func() { panics[leaf] = recover() }()
			ev := newLeafEvaluator(problem, loss, groups[leaf])

			cfg := walkerConfig(problem, params, walker.LayoutLeafwise)
			if params.OnEvent != nil {
				cfg.OnEvent = func(e walker.Event) {
					mu.Lock()
					defer mu.Unlock()
					params.OnEvent(leaf, e)
				}
			}
			w, err := walker.New(cfg, walker.Funcs{
				Step: ev.stepFunc(params),
				Loss: ev.value,
			})
			if err != nil {
				return fmt.Errorf("leaf %d: failed to create walker: %w", leaf, err)
			}

			point := walker.Point(walker.NewStep(dims, 1))
			stepSum := walker.NewStep(dims, 1)
			walks[leaf] = w.Walk(&point, stepSum)

			for d := 0; d < dims; d++ {
				values[d][leaf] = point[d][0]
				sums[d][leaf] = stepSum[d][0]
			}
			return nil
		})
	}
	err := g.Wait()
	repanic(panics)
	if err != nil {
		return nil, err
	}

	result := &Result{
		LeafValues: walker.Point(values),
		StepSum:    sums,
	}
	for _, res := range walks {
		result.Walk.Accepted += res.Accepted
		result.Walk.Rejected += res.Rejected
		result.Walk.LossEvaluations += res.LossEvaluations
		result.Walk.Exhausted = result.Walk.Exhausted || res.Exhausted
	}

	ev := newEvaluator(problem, loss, params.Workers)
	result.InitialLoss = ev.value(walker.Point(walker.NewStep(dims, leaves)))
	result.FinalLoss = ev.value(result.LeafValues)
	result.Walk.InitialLoss = result.InitialLoss
	result.Walk.FinalLoss = result.FinalLoss
	return result, nil
}
