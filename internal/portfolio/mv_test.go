package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProblem() (map[string]float64, [][]float64, []string) {
	returns := map[string]float64{"A": 0.10, "B": 0.08, "C": 0.12}
	cov := [][]float64{
		{0.04, 0.01, 0.00},
		{0.01, 0.03, 0.00},
		{0.00, 0.00, 0.05},
	}
	return returns, cov, []string{"A", "B", "C"}
}

func TestMVOptimizer_MinVolatility_WeightsSumToOne(t *testing.T) {
	returns, cov, codes := testProblem()
	opt := NewMVOptimizer()
	weights, _, err := opt.Optimize(returns, cov, codes, nil, nil, StrategyMinVolatility, nil, nil)
	require.NoError(t, err)

	sum := 0.0
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, -1e-6)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestMVOptimizer_EfficientReturn_RequiresTarget(t *testing.T) {
	returns, cov, codes := testProblem()
	opt := NewMVOptimizer()
	_, _, err := opt.Optimize(returns, cov, codes, nil, nil, StrategyEfficientReturn, nil, nil)
	assert.Error(t, err)
}

func TestMVOptimizer_MaxSharpe_Converges(t *testing.T) {
	returns, cov, codes := testProblem()
	opt := NewMVOptimizer()
	weights, portfolioReturn, err := opt.Optimize(returns, cov, codes, nil, nil, StrategyMaxSharpe, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, portfolioReturn)
	assert.Len(t, weights, 3)
}

func TestMVOptimizer_RejectsDimensionMismatch(t *testing.T) {
	returns, _, codes := testProblem()
	opt := NewMVOptimizer()
	_, _, err := opt.Optimize(returns, [][]float64{{1, 0}, {0, 1}}, codes, nil, nil, StrategyMinVolatility, nil, nil)
	assert.Error(t, err)
}
