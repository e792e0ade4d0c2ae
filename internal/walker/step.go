package walker

// Point holds the values being fitted, one slice of leaf values per dimension.
type Point [][]float64

// Step is an additive delta with the same dimension count as a Point.
type Step [][]float64

// NewStep allocates a zeroed step with the given number of dimensions,
// each holding leaves entries.
func NewStep(dimensions, leaves int) Step {
	step := make(Step, dimensions)
	for d := range step {
		step[d] = make([]float64, leaves)
	}
	return step
}

// AddElementwise adds src into dst. The shapes must match.
func AddElementwise(src, dst Step) {
	if len(src) != len(dst) {
		panic("walker: step dimension counts must match")
	}
	for d := range src {
		if len(src[d]) != len(dst[d]) {
			panic("walker: step leaf counts must match")
		}
		for i, v := range src[d] {
			dst[d][i] += v
		}
	}
}

// ScaleElementwise returns a new step with every element of step multiplied
// by scale.
func ScaleElementwise(scale float64, step Step) Step {
	scaled := make(Step, len(step))
	for d, values := range step {
		scaled[d] = make([]float64, len(values))
		for i, v := range values {
			scaled[d][i] = scale * v
		}
	}
	return scaled
}

// AddStep is the default update: it adds step into point in place.
func AddStep(step Step, point *Point) {
	AddElementwise(step, Step(*point))
}

// CopyPoint deep-copies src into dst, reusing dst's storage where it is
// large enough.
func CopyPoint(src Point, dst *Point) {
	out := *dst
	if cap(out) < len(src) {
		out = make(Point, len(src))
	}
	out = out[:len(src)]
	for d, values := range src {
		if cap(out[d]) < len(values) {
			out[d] = make([]float64, len(values))
		}
		out[d] = out[d][:len(values)]
		copy(out[d], values)
	}
	*dst = out
}

// Clone returns a deep copy of p.
func (p Point) Clone() Point {
	var out Point
	CopyPoint(p, &out)
	return out
}
