package opt

// Optimizer searches a bounded box for the parameters minimising eval.
type Optimizer interface {
	// Run minimises eval over dim parameters with lower[i] <= x[i] <= upper[i].
	// Returns the best parameters and their cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}
