// Package leaves supplies concrete gradient walker collaborators for fitting
// the leaf values of a tree fragment: derivative-based steps, the loss over
// the samples that fall into each leaf, and per-leaf parallel fitting.
package leaves

import "fmt"

// Problem describes one tree fragment whose leaf values are to be fitted.
// Baseline and Targets are dimension-major: Baseline[d][i] is the model's
// current output for sample i in dimension d.
type Problem struct {
	Dimensions int
	Leaves     int

	// LeafOf maps each sample to the leaf it falls into.
	LeafOf []int

	// Baseline may be nil, meaning a zero baseline.
	Baseline [][]float64
	Targets  [][]float64

	// Weights may be nil, meaning unit weights.
	Weights []float64
}

// Samples returns the number of samples in the problem.
func (p *Problem) Samples() int {
	return len(p.LeafOf)
}

func (p *Problem) weight(i int) float64 {
	if p.Weights == nil {
		return 1
	}
	return p.Weights[i]
}

func (p *Problem) baseline(d, i int) float64 {
	if p.Baseline == nil {
		return 0
	}
	return p.Baseline[d][i]
}

// leafSamples groups sample indices by leaf.
func (p *Problem) leafSamples() [][]int {
	groups := make([][]int, p.Leaves)
	for i, leaf := range p.LeafOf {
		groups[leaf] = append(groups[leaf], i)
	}
	return groups
}

// Validate checks that the problem's slices agree on shape.
func (p *Problem) Validate() error {
	if p.Dimensions <= 0 {
		return &ProblemError{Field: "Dimensions", Reason: "must be positive"}
	}
	if p.Leaves <= 0 {
		return &ProblemError{Field: "Leaves", Reason: "must be positive"}
	}
	n := len(p.LeafOf)
	if n == 0 {
		return &ProblemError{Field: "LeafOf", Reason: "cannot be empty"}
	}
	for i, leaf := range p.LeafOf {
		if leaf < 0 || leaf >= p.Leaves {
			return &ProblemError{Field: "LeafOf", Reason: fmt.Sprintf("sample %d maps to leaf %d outside [0, %d)", i, leaf, p.Leaves)}
		}
	}
	if err := checkMatrix("Targets", p.Targets, p.Dimensions, n); err != nil {
		return err
	}
	if p.Baseline != nil {
		if err := checkMatrix("Baseline", p.Baseline, p.Dimensions, n); err != nil {
			return err
		}
	}
	if p.Weights != nil {
		if len(p.Weights) != n {
			return &ProblemError{Field: "Weights", Reason: fmt.Sprintf("length %d, expected %d", len(p.Weights), n)}
		}
		for i, w := range p.Weights {
			if w < 0 {
				return &ProblemError{Field: "Weights", Reason: fmt.Sprintf("sample %d has negative weight %g", i, w)}
			}
		}
	}
	return nil
}

func checkMatrix(field string, m [][]float64, dims, n int) error {
	if len(m) != dims {
		return &ProblemError{Field: field, Reason: fmt.Sprintf("has %d dimensions, expected %d", len(m), dims)}
	}
	for d, row := range m {
		if len(row) != n {
			return &ProblemError{Field: field, Reason: fmt.Sprintf("dimension %d has %d samples, expected %d", d, len(row), n)}
		}
	}
	return nil
}

// ErrInvalidProblem matches any *ProblemError via errors.Is.
var ErrInvalidProblem = &ProblemError{}

// ProblemError reports a malformed problem or parameter set.
type ProblemError struct {
	Field  string
	Reason string
}

func (e *ProblemError) Error() string {
	if e.Field == "" {
		return "invalid problem"
	}
	return "invalid problem: " + e.Field + " " + e.Reason
}

func (e *ProblemError) Is(target error) bool {
	_, ok := target.(*ProblemError)
	return ok
}
