package curiosity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscretize_BucketsByFloorDivision(t *testing.T) {
	state := State{5, 15, -5, 0, 0, 0, 0, 0}
	key := Discretize(state, 10.0)
	assert.Equal(t, CellKey{0, 1, -1, 0, 0, 0, 0, 0}, key)
}

func TestDistance_ZeroForIdenticalStates(t *testing.T) {
	s := State{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, 0.0, Distance(s, s))
}

func TestDistance_Symmetric(t *testing.T) {
	a := State{1, 0, 0, 0, 0, 0, 0, 0}
	b := State{0, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestSurprise_NormalizedBySqrt8(t *testing.T) {
	predicted := State{}
	actual := State{1, 1, 1, 1, 1, 1, 1, 1}
	// Euclidean distance of an all-ones 8-vector from the origin is sqrt(8).
	assert.InDelta(t, 1.0, Surprise(predicted, actual), 1e-9)
}

func TestSurprise_CanExceedOne(t *testing.T) {
	predicted := State{}
	actual := State{10, 10, 10, 10, 10, 10, 10, 10}
	assert.Greater(t, Surprise(predicted, actual), 1.0)
}

func TestSqrt8(t *testing.T) {
	assert.InDelta(t, math.Sqrt(8), sqrt8(), 1e-12)
}
