package detect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftmax_SumsToOne(t *testing.T) {
	probs := softmax([]float32{0.2, 0.4, 0.8})
	s := 0.0
	for _, p := range probs {
		s += p
	}
	assert.InDelta(t, 1.0, s, 1e-4)
}

func TestSoftmax_MaxIsArgmax(t *testing.T) {
	idx, p := argmax(softmax([]float32{0, 0, 10, 0}))
	assert.Equal(t, 2, idx)
	assert.Greater(t, p, 0.99)
}

func TestSoftmax_NumericalStability(t *testing.T) {
	for _, p := range softmax([]float32{1000, 1001, 1002}) {
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0), "bad prob %f", p)
	}
}
