package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHRPOptimizer_BasicOptimization(t *testing.T) {
	codes := []string{"005930", "000660", "035420"}
	cov := [][]float64{
		{0.0400, 0.0300, 0.0000},
		{0.0300, 0.0450, 0.0000},
		{0.0000, 0.0000, 0.0100},
	}

	optimizer := NewHRPOptimizer()
	weights, err := optimizer.Optimize(cov, codes)
	require.NoError(t, err)
	require.Len(t, weights, 3)

	sum := 0.0
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestHRPOptimizer_SingleAssetGetsFullWeight(t *testing.T) {
	optimizer := NewHRPOptimizer()
	weights, err := optimizer.Optimize([][]float64{{0.05}}, []string{"005930"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, weights["005930"])
}

func TestHRPOptimizer_RejectsMismatchedDimensions(t *testing.T) {
	optimizer := NewHRPOptimizer()
	_, err := optimizer.Optimize([][]float64{{1, 0}, {0, 1}}, []string{"a", "b", "c"})
	assert.Error(t, err)
}
