// Package walker implements the gradient walker: an iterative driver that
// fits a point (for example the leaf values of a tree across its output
// dimensions) by computing a step, applying it, and in damped mode checking
// with a loss evaluation that the step improves the fit, halving it when it
// does not.
//
// The walker never looks at what the values mean. Step computation, the
// update, the loss and the snapshot copy are all supplied by the caller as
// function values.
package walker

import (
	"fmt"
	"log/slog"
)

// Layout selects how the walker sizes its step container.
type Layout int

const (
	// LayoutPerLeaf sizes every dimension of the step with one entry per leaf.
	LayoutPerLeaf Layout = iota
	// LayoutLeafwise sizes every dimension of the step with zero entries. The
	// step function owns per-leaf addressing and fills each dimension itself.
	LayoutLeafwise
)

func (l Layout) String() string {
	switch l {
	case LayoutPerLeaf:
		return "per-leaf"
	case LayoutLeafwise:
		return "leafwise"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// StepFunc overwrites step with the next proposed delta for point. first is
// true on the walk's first outer step.
type StepFunc func(first bool, point Point, step Step)

// UpdateFunc adds step into point in place.
type UpdateFunc func(step Step, point *Point)

// LossFunc evaluates point. Lower is better.
type LossFunc func(point Point) float64

// CopyFunc overwrites dst with a full copy of src.
type CopyFunc func(src Point, dst *Point)

// Funcs bundles the collaborators a walk is driven by.
type Funcs struct {
	Step   StepFunc
	Update UpdateFunc // AddStep when nil
	Loss   LossFunc   // required unless Config.Trivial
	Copy   CopyFunc   // CopyPoint when nil
}

// Config fixes the shape and mode of a walk.
type Config struct {
	// Trivial applies every step unconditionally and never evaluates the loss.
	Trivial bool

	// Iterations is the total budget. In damped mode it is shared between
	// outer steps and rejected backtracking attempts.
	Iterations int

	// Leaves and Dimensions size the step container.
	Leaves     int
	Dimensions int

	Layout Layout

	// Logger receives per-decision debug records. slog.Default() when nil.
	Logger *slog.Logger

	// OnEvent, when set, is called after every accept or reject decision.
	OnEvent func(Event)
}

// Event describes a single accept or reject decision.
type Event struct {
	Iteration int     // budget units consumed before this decision
	Outer     int     // index of the outer step the decision belongs to
	Scale     float64 // scale applied to the step
	Loss      float64 // loss after the candidate was applied
	HasLoss   bool    // false in trivial mode, where no loss is evaluated
	Accepted  bool
}

// Result summarises one walk.
type Result struct {
	Accepted        int // outer steps applied to the point
	Rejected        int // backtracking halvings
	LossEvaluations int

	// InitialLoss and FinalLoss are only meaningful in damped mode.
	InitialLoss float64
	FinalLoss   float64

	// Exhausted reports that the budget ran out while backtracking, so the
	// last outer step was abandoned without an accepted update.
	Exhausted bool
}

// Walker runs walks with a fixed configuration. It keeps no state between
// calls; distinct walks over distinct buffers may run concurrently.
type Walker struct {
	cfg   Config
	funcs Funcs
	log   *slog.Logger
}

// New validates cfg and funcs and returns a Walker.
func New(cfg Config, funcs Funcs) (*Walker, error) {
	if funcs.Step == nil {
		return nil, &ConfigError{Field: "Step", Reason: "cannot be nil"}
	}
	if !cfg.Trivial && funcs.Loss == nil {
		return nil, &ConfigError{Field: "Loss", Reason: "cannot be nil in damped mode"}
	}
	if cfg.Leaves < 0 {
		return nil, &ConfigError{Field: "Leaves", Reason: "cannot be negative"}
	}
	if cfg.Dimensions < 0 {
		return nil, &ConfigError{Field: "Dimensions", Reason: "cannot be negative"}
	}
	if cfg.Layout != LayoutPerLeaf && cfg.Layout != LayoutLeafwise {
		return nil, &ConfigError{Field: "Layout", Reason: "unknown value " + cfg.Layout.String()}
	}

	if funcs.Update == nil {
		funcs.Update = AddStep
	}
	if funcs.Copy == nil {
		funcs.Copy = CopyPoint
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Walker{cfg: cfg, funcs: funcs, log: log}, nil
}

// Walk runs one trajectory, mutating point in place. When stepSum is non-nil
// every accepted (scaled) step is added into it.
func (w *Walker) Walk(point *Point, stepSum Step) Result {
	leaves := w.cfg.Leaves
	if w.cfg.Layout == LayoutLeafwise {
		leaves = 0
	}
	step := NewStep(w.cfg.Dimensions, leaves)

	if w.cfg.Trivial {
		return w.walkTrivial(point, step, stepSum)
	}
	return w.walkDamped(point, step, stepSum)
}

func (w *Walker) walkTrivial(point *Point, step, stepSum Step) Result {
	var res Result
	for idx := 0; idx < w.cfg.Iterations; idx++ {
		w.funcs.Step(idx == 0, *point, step)
		w.funcs.Update(step, point)
		if stepSum != nil {
			AddElementwise(step, stepSum)
		}
		res.Accepted++
		w.emit(Event{Iteration: idx, Outer: idx, Scale: 1, Accepted: true})
	}
	return res
}

func (w *Walker) walkDamped(point *Point, step, stepSum Step) Result {
	var res Result
	var startPoint Point

	// Evaluated even when the budget is empty.
	loss := w.funcs.Loss(*point)
	res.LossEvaluations++
	res.InitialLoss = loss

	outer := 0
	for idx := 0; idx < w.cfg.Iterations; idx++ {
		w.funcs.Step(idx == 0, *point, step)
		w.funcs.Copy(*point, &startPoint)

		// Never above 1.0, or monotone constraints may be violated.
		scale := 1.0
		for {
			scaled := ScaleElementwise(scale, step)
			w.funcs.Update(scaled, point)
			candidate := w.funcs.Loss(*point)
			res.LossEvaluations++

			if candidate < loss {
				w.log.Debug("Step accepted",
					"iteration", idx,
					"outer", outer,
					"scale", scale,
					"loss", candidate,
					"previous_loss", loss,
				)
				loss = candidate
				if stepSum != nil {
					AddElementwise(scaled, stepSum)
				}
				res.Accepted++
				w.emit(Event{Iteration: idx, Outer: outer, Scale: scale, Loss: candidate, HasLoss: true, Accepted: true})
				break
			}

			w.log.Debug("Step rejected",
				"iteration", idx,
				"outer", outer,
				"scale", scale,
				"loss", candidate,
				"best_loss", loss,
			)
			w.funcs.Copy(startPoint, point)
			res.Rejected++
			w.emit(Event{Iteration: idx, Outer: outer, Scale: scale, Loss: candidate, HasLoss: true})

			scale /= 2
			idx++
			if idx >= w.cfg.Iterations {
				res.Exhausted = true
				break
			}
		}
		outer++
	}

	res.FinalLoss = loss
	if res.Exhausted {
		w.log.Debug("Iteration budget exhausted while backtracking",
			"iterations", w.cfg.Iterations,
			"accepted", res.Accepted,
			"rejected", res.Rejected,
		)
	}
	return res
}

func (w *Walker) emit(ev Event) {
	if w.cfg.OnEvent != nil {
		w.cfg.OnEvent(ev)
	}
}
