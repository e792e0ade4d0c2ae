package leaves

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/cwbudde/leafwalk/internal/walker"
)

// Method selects how a leaf's step is derived from its derivative sums.
type Method int

const (
	// MethodGradient divides the gradient sum by the leaf weight.
	MethodGradient Method = iota
	// MethodNewton divides the gradient sum by the hessian sum.
	MethodNewton
)

func (m Method) String() string {
	switch m {
	case MethodGradient:
		return "Gradient"
	case MethodNewton:
		return "Newton"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses "Gradient" or "Newton", ignoring case.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "gradient":
		return MethodGradient, nil
	case "newton":
		return MethodNewton, nil
	default:
		return 0, fmt.Errorf("unknown leaf estimation method %q (valid: Gradient, Newton)", s)
	}
}

// Backtracking selects whether leaf steps are checked against the loss.
type Backtracking int

const (
	// BacktrackingNo applies every step without evaluating the loss.
	BacktrackingNo Backtracking = iota
	// BacktrackingAnyImprovement halves a step until it lowers the loss.
	BacktrackingAnyImprovement
)

func (b Backtracking) String() string {
	switch b {
	case BacktrackingNo:
		return "No"
	case BacktrackingAnyImprovement:
		return "AnyImprovement"
	default:
		return fmt.Sprintf("Backtracking(%d)", int(b))
	}
}

// ParseBacktracking parses "No" or "AnyImprovement", ignoring case.
func ParseBacktracking(s string) (Backtracking, error) {
	switch strings.ToLower(s) {
	case "no", "none":
		return BacktrackingNo, nil
	case "anyimprovement":
		return BacktrackingAnyImprovement, nil
	default:
		return 0, fmt.Errorf("unknown backtracking %q (valid: No, AnyImprovement)", s)
	}
}

// Params configures leaf estimation.
type Params struct {
	Method       Method
	Iterations   int
	LearningRate float64
	L2           float64
	Backtracking Backtracking

	// Leafwise fits each leaf with its own walk instead of one walk over all
	// leaves.
	Leafwise bool

	// Workers bounds the goroutines used for derivative sums, or for
	// concurrent leaves in leafwise mode.
	Workers int

	Logger *slog.Logger

	// OnEvent observes walker decisions. leaf is -1 for a walk over all
	// leaves. Calls are serialised.
	OnEvent func(leaf int, ev walker.Event)
}

// DefaultParams returns Newton steps with backtracking.
func DefaultParams() Params {
	return Params{
		Method:       MethodNewton,
		Iterations:   10,
		LearningRate: 1.0,
		L2:           3.0,
		Backtracking: BacktrackingAnyImprovement,
		Workers:      runtime.NumCPU(),
	}
}

// Validate checks that the parameters can drive a fit.
func (p Params) Validate() error {
	if p.Method != MethodGradient && p.Method != MethodNewton {
		return &ProblemError{Field: "Method", Reason: "unknown value " + p.Method.String()}
	}
	if p.Backtracking != BacktrackingNo && p.Backtracking != BacktrackingAnyImprovement {
		return &ProblemError{Field: "Backtracking", Reason: "unknown value " + p.Backtracking.String()}
	}
	if p.Iterations < 0 {
		return &ProblemError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if p.LearningRate <= 0 {
		return &ProblemError{Field: "LearningRate", Reason: "must be positive"}
	}
	if p.L2 < 0 {
		return &ProblemError{Field: "L2", Reason: "cannot be negative"}
	}
	if p.Workers < 1 {
		return &ProblemError{Field: "Workers", Reason: "must be at least 1"}
	}
	return nil
}

func (p Params) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
