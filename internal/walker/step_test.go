package walker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep(t *testing.T) {
	step := NewStep(3, 4)
	require.Len(t, step, 3)
	for d := range step {
		assert.Equal(t, []float64{0, 0, 0, 0}, step[d])
	}

	assert.Empty(t, NewStep(0, 5))
	for _, values := range NewStep(2, 0) {
		assert.Empty(t, values)
	}
}

func TestAddElementwise(t *testing.T) {
	acc := Step{{1, 2}, {3}}
	AddElementwise(Step{{0.5, -2}, {1}}, acc)
	assert.Equal(t, Step{{1.5, 0}, {4}}, acc)
}

func TestAddElementwiseShapeMismatch(t *testing.T) {
	assert.Panics(t, func() {
		AddElementwise(Step{{1}}, Step{{1}, {2}})
	}, "dimension mismatch")
	assert.Panics(t, func() {
		AddElementwise(Step{{1, 2}}, Step{{1}})
	}, "leaf mismatch")
}

func TestScaleElementwiseDoesNotMutate(t *testing.T) {
	step := Step{{2, -4}, {8}}
	scaled := ScaleElementwise(0.25, step)

	assert.Equal(t, Step{{0.5, -1}, {2}}, scaled)
	assert.Equal(t, Step{{2, -4}, {8}}, step)

	scaled[0][0] = 100
	assert.Equal(t, 2.0, step[0][0], "scaled step must not share storage")
}

func TestCopyPointNoAliasing(t *testing.T) {
	src := Point{{1, 2, 3}, {4}}
	var dst Point
	CopyPoint(src, &dst)

	if diff := cmp.Diff(src, dst); diff != "" {
		t.Fatalf("copy mismatch (-src +dst):\n%s", diff)
	}

	dst[0][1] = 42
	assert.Equal(t, 2.0, src[0][1])
}

func TestCopyPointReusesStorage(t *testing.T) {
	dst := Point{{9, 9, 9, 9}, {9, 9}}
	backing := &dst[0][0]

	CopyPoint(Point{{1, 2}, {3}}, &dst)

	assert.Equal(t, Point{{1, 2}, {3}}, dst)
	assert.Same(t, backing, &dst[0][0])
}

func TestCopyPointShrinksAndGrows(t *testing.T) {
	dst := Point{{1}}
	CopyPoint(Point{{1, 2}, {3, 4}, {5}}, &dst)
	assert.Equal(t, Point{{1, 2}, {3, 4}, {5}}, dst)

	CopyPoint(Point{{7}}, &dst)
	assert.Equal(t, Point{{7}}, dst)
}

func TestAddStep(t *testing.T) {
	point := Point{{1, 1}, {2, 2}}
	AddStep(Step{{1, -1}, {0.5, 0.5}}, &point)
	assert.Equal(t, Point{{2, 0}, {2.5, 2.5}}, point)
}

func TestPointClone(t *testing.T) {
	p := Point{{1}, {2, 3}}
	c := p.Clone()
	c[1][0] = -1
	assert.Equal(t, Point{{1}, {2, 3}}, p)
}
