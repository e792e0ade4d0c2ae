package leaves

import (
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/leafwalk/internal/walker"
)

// evaluator computes derivative and loss sums of a point over a set of
// samples. In per-leaf mode the point is [dim][leaf] and samples are looked
// up through Problem.LeafOf; in leafwise mode the point is [dim][1] and
// every sample belongs to that single column.
type evaluator struct {
	problem *Problem
	loss    Loss
	samples []int
	leaves  int
	single  bool
	workers int
}

func newEvaluator(problem *Problem, loss Loss, workers int) *evaluator {
	samples := make([]int, problem.Samples())
	for i := range samples {
		samples[i] = i
	}
	return &evaluator{
		problem: problem,
		loss:    loss,
		samples: samples,
		leaves:  problem.Leaves,
		workers: workers,
	}
}

// newLeafEvaluator evaluates a single leaf's samples against a [dim][1] point.
func newLeafEvaluator(problem *Problem, loss Loss, samples []int) *evaluator {
	return &evaluator{
		problem: problem,
		loss:    loss,
		samples: samples,
		leaves:  1,
		single:  true,
		workers: 1,
	}
}

func (e *evaluator) column(sample int) int {
	if e.single {
		return 0
	}
	return e.problem.LeafOf[sample]
}

// partial holds sums over one contiguous chunk of samples.
type partial struct {
	der1   [][]float64 // [dim][leaf]
	der2   [][]float64
	loss   float64
	weight float64
}

// chunks splits [0, n) into at most workers contiguous ranges.
func chunks(n, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	size := max((n+workers-1)/workers, 1)
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// each runs fn over sample chunks, concurrently when more than one worker is
// configured, and returns the chunk results in order. A panic in fn is
// raised again on the caller's goroutine.
func (e *evaluator) each(fn func(start, end int) partial) []partial {
	ranges := chunks(len(e.samples), e.workers)
	parts := make([]partial, len(ranges))
	if len(ranges) <= 1 {
		for i, r := range ranges {
			parts[i] = fn(r[0], r[1])
		}
		return parts
	}

	panics := make([]any, len(ranges))
	var g errgroup.Group
	for i, r := range ranges {
		g.Go(func() error {
			defer func() { panics[i] = recover() }()
			parts[i] = fn(r[0], r[1])
			return nil
		})
	}
	_ = g.Wait()
	repanic(panics)
	return parts
}

// repanic re-raises the first recovered worker panic, in slot order, on the
// calling goroutine.
func repanic(panics []any) {
	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}
}

// derivatives returns weighted gradient and hessian sums per leaf.
func (e *evaluator) derivatives(point walker.Point) (der1, der2 [][]float64) {
	dims := e.problem.Dimensions
	parts := e.each(func(start, end int) partial {
		p := partial{
			der1: walker.NewStep(dims, e.leaves),
			der2: walker.NewStep(dims, e.leaves),
		}
		approx := make([]float64, dims)
		target := make([]float64, dims)
		g := make([]float64, dims)
		h := make([]float64, dims)
		for _, s := range e.samples[start:end] {
			col := e.fill(point, s, approx, target)
			e.loss.Derivatives(approx, target, g, h)
			w := e.problem.weight(s)
			for d := 0; d < dims; d++ {
				p.der1[d][col] += w * g[d]
				p.der2[d][col] += w * h[d]
			}
		}
		return p
	})

	der1 = walker.NewStep(dims, e.leaves)
	der2 = walker.NewStep(dims, e.leaves)
	for _, p := range parts {
		walker.AddElementwise(p.der1, der1)
		walker.AddElementwise(p.der2, der2)
	}
	return der1, der2
}

// leafWeights returns the total sample weight per leaf. It does not depend
// on the point.
func (e *evaluator) leafWeights() []float64 {
	weights := make([]float64, e.leaves)
	for _, s := range e.samples {
		weights[e.column(s)] += e.problem.weight(s)
	}
	return weights
}

// value returns the loss of point over the evaluator's samples.
func (e *evaluator) value(point walker.Point) float64 {
	dims := e.problem.Dimensions
	parts := e.each(func(start, end int) partial {
		var p partial
		approx := make([]float64, dims)
		target := make([]float64, dims)
		for _, s := range e.samples[start:end] {
			e.fill(point, s, approx, target)
			w := e.problem.weight(s)
			p.loss += w * e.loss.Eval(approx, target)
			p.weight += w
		}
		return p
	})

	var sum, weight float64
	for _, p := range parts {
		sum += p.loss
		weight += p.weight
	}
	return e.loss.Finish(sum, weight)
}

// fill writes sample s's approx and target into the scratch slices and
// returns the point column it reads.
func (e *evaluator) fill(point walker.Point, s int, approx, target []float64) int {
	col := e.column(s)
	for d := range approx {
		approx[d] = e.problem.baseline(d, s) + point[d][col]
		target[d] = e.problem.Targets[d][s]
	}
	return col
}

// stepFunc returns the walker step collaborator for params.
func (e *evaluator) stepFunc(params Params) walker.StepFunc {
	var weights []float64
	return func(first bool, point walker.Point, step walker.Step) {
		if first || weights == nil {
			weights = e.leafWeights()
		}
		der1, der2 := e.derivatives(point)

		for d := range step {
			step[d] = resize(step[d], e.leaves)
			for leaf := 0; leaf < e.leaves; leaf++ {
				var denom float64
				switch params.Method {
				case MethodGradient:
					denom = weights[leaf] + params.L2
				case MethodNewton:
					denom = der2[d][leaf] + params.L2
				}
				if denom <= 0 {
					step[d][leaf] = 0
					continue
				}
				step[d][leaf] = -params.LearningRate * der1[d][leaf] / denom
			}
		}
	}
}

func resize(values []float64, n int) []float64 {
	if cap(values) < n {
		return make([]float64, n)
	}
	return values[:n]
}
