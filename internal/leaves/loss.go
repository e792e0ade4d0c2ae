package leaves

import (
	"fmt"
	"math"
	"strings"
)

// Loss is a per-sample objective over all output dimensions.
type Loss interface {
	Name() string

	// Eval returns the unweighted loss of one sample.
	Eval(approx, target []float64) float64

	// Derivatives writes the first and second derivatives of Eval with
	// respect to each approx dimension.
	Derivatives(approx, target, der1, der2 []float64)

	// Finish turns a weighted loss sum into the reported value.
	Finish(sum, weight float64) float64
}

// targetChecker is implemented by losses that restrict their targets.
type targetChecker interface {
	CheckTargets(targets [][]float64) error
}

// RMSE is the root mean squared error, summed over dimensions.
type RMSE struct{}

func (RMSE) Name() string { return "RMSE" }

func (RMSE) Eval(approx, target []float64) float64 {
	var sum float64
	for d := range approx {
		diff := approx[d] - target[d]
		sum += diff * diff
	}
	return sum
}

// Derivatives are those of half the squared error, which shares its
// minimiser with RMSE.
func (RMSE) Derivatives(approx, target, der1, der2 []float64) {
	for d := range approx {
		der1[d] = approx[d] - target[d]
		der2[d] = 1
	}
}

func (RMSE) Finish(sum, weight float64) float64 {
	if weight <= 0 {
		return 0
	}
	return math.Sqrt(sum / weight)
}

// Logloss is binary cross-entropy on raw scores, applied independently per
// dimension. Targets must lie in [0, 1].
type Logloss struct{}

func (Logloss) Name() string { return "Logloss" }

func (Logloss) Eval(approx, target []float64) float64 {
	var sum float64
	for d, a := range approx {
		sum += softplus(a) - target[d]*a
	}
	return sum
}

func (Logloss) Derivatives(approx, target, der1, der2 []float64) {
	for d, a := range approx {
		p := sigmoid(a)
		der1[d] = p - target[d]
		der2[d] = p * (1 - p)
	}
}

func (Logloss) Finish(sum, weight float64) float64 {
	if weight <= 0 {
		return 0
	}
	return sum / weight
}

func (Logloss) CheckTargets(targets [][]float64) error {
	for d, row := range targets {
		for i, t := range row {
			if t < 0 || t > 1 || math.IsNaN(t) {
				return &ProblemError{Field: "Targets", Reason: fmt.Sprintf("Logloss target %g at [%d][%d] outside [0, 1]", t, d, i)}
			}
		}
	}
	return nil
}

// LossByName resolves a loss by its name, ignoring case.
func LossByName(name string) (Loss, error) {
	switch strings.ToLower(name) {
	case "rmse", "multirmse":
		return RMSE{}, nil
	case "logloss":
		return Logloss{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q (valid: RMSE, Logloss)", name)
	}
}

// softplus computes log(1 + e^x) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
