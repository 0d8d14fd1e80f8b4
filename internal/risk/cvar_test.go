package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/scoring"
)

func TestCVaRCalculator_PortfolioCVaR(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())

	weights := map[string]float64{"A": 0.6, "B": 0.4}
	returns := map[string][]float64{
		"A": {-0.10, -0.05, 0.0, 0.05, 0.10},
		"B": {-0.15, -0.08, 0.0, 0.08, 0.15},
	}
	result := calc.PortfolioCVaR(weights, returns, 0.95)
	assert.InDelta(t, -0.12, result, 0.02)
}

func TestCVaRCalculator_PositionCVaR(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())
	returns := []float64{-0.20, -0.10, -0.05, 0.0, 0.05, 0.10, 0.15}
	result := calc.PositionCVaR(returns, 0.95)
	assert.InDelta(t, -0.20, result, 0.01)
}

func TestCVaRCalculator_ApplyRegimeAdjustment_WorsensInBear(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())
	base := -0.15
	result := calc.ApplyRegimeAdjustment(base, scoring.RegimeBear)
	assert.Less(t, result, base)
}

func TestCVaRCalculator_ApplyRegimeAdjustment_PassesThroughOtherRegimes(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())
	base := -0.15
	assert.Equal(t, base, calc.ApplyRegimeAdjustment(base, scoring.RegimeBull))
	assert.Equal(t, base, calc.ApplyRegimeAdjustment(base, scoring.RegimeSideways))
	assert.Equal(t, base, calc.ApplyRegimeAdjustment(base, scoring.RegimeHighVol))
}

func TestCVaRCalculator_PositionContributions(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())
	weights := map[string]float64{"A": 0.6, "B": 0.4}
	returns := map[string][]float64{
		"A": {-0.10, -0.05, 0.0, 0.05, 0.10},
		"B": {-0.15, -0.08, 0.0, 0.08, 0.15},
	}
	contributions, err := calc.PositionContributions(weights, returns, 0.95)
	require.NoError(t, err)
	assert.Len(t, contributions, 2)
}

func TestCVaRCalculator_PositionContributions_RejectsEmptyWeights(t *testing.T) {
	calc := NewCVaRCalculator(zerolog.Nop())
	_, err := calc.PositionContributions(nil, nil, 0.95)
	assert.Error(t, err)
}
