package risk

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/scoring"
	"github.com/aristath/kquant-trader/pkg/formulas"
)

// bearCVaRAdjustment is how much worse (more negative) a bear-regime CVaR
// reading is treated, reflecting that historical returns collected in
// calmer regimes understate tail risk once the regime turns.
const bearCVaRAdjustment = 1.3

// CVaRCalculator computes Conditional Value at Risk for a portfolio or a
// single position, in-process from historical daily returns — no external
// risk-model service is consulted.
type CVaRCalculator struct {
	log zerolog.Logger
}

// NewCVaRCalculator constructs a CVaRCalculator.
func NewCVaRCalculator(log zerolog.Logger) *CVaRCalculator {
	return &CVaRCalculator{log: log.With().Str("component", "cvar").Logger()}
}

// PortfolioCVaR computes portfolio-level CVaR from weighted historical returns.
func (c *CVaRCalculator) PortfolioCVaR(weights map[string]float64, returns map[string][]float64, confidence float64) float64 {
	return formulas.CalculatePortfolioCVaR(weights, returns, confidence)
}

// PositionCVaR computes CVaR for a single position's historical returns.
func (c *CVaRCalculator) PositionCVaR(returns []float64, confidence float64) float64 {
	return formulas.CalculateCVaR(returns, confidence)
}

// ApplyRegimeAdjustment widens (more negative) the CVaR reading in a bear
// regime; other regimes pass through unchanged since their historical
// sample already reflects the current risk environment.
func (c *CVaRCalculator) ApplyRegimeAdjustment(cvar float64, regime scoring.MarketRegime) float64 {
	if regime != scoring.RegimeBear {
		return cvar
	}
	return cvar * bearCVaRAdjustment
}

// PortfolioCVaRWithRegime is PortfolioCVaR followed by ApplyRegimeAdjustment.
func (c *CVaRCalculator) PortfolioCVaRWithRegime(weights map[string]float64, returns map[string][]float64, confidence float64, regime scoring.MarketRegime) float64 {
	return c.ApplyRegimeAdjustment(c.PortfolioCVaR(weights, returns, confidence), regime)
}

// PositionContributions reports each position's weight-scaled contribution
// to portfolio CVaR, used to flag which holdings drive the tail risk.
func (c *CVaRCalculator) PositionContributions(weights map[string]float64, returns map[string][]float64, confidence float64) (map[string]float64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("risk: CVaR contributions require at least one weighted position")
	}

	contributions := make(map[string]float64, len(weights))
	for code, weight := range weights {
		series, ok := returns[code]
		if !ok || len(series) == 0 {
			continue
		}
		contributions[code] = weight * c.PositionCVaR(series, confidence)
	}
	return contributions, nil
}
