package scoring

import (
	"math"

	"github.com/aristath/kquant-trader/pkg/formulas"
)

// defaultFactors returns the built-in implementation of the seven named
// factors. Each is a pure function of a Snapshot; a caller may override any
// entry on a Registry without touching the others.
func defaultFactors() map[string]FactorFunc {
	return map[string]FactorFunc{
		"momentum":        momentumFactor,
		"value":           valueFactor,
		"quality":         qualityFactor,
		"volume":          volumeFactor,
		"volatility":      volatilityFactor,
		"technical":       technicalFactor,
		"market_strength": marketStrengthFactor,
	}
}

// momentumFactor is the percentage distance of the latest close from its
// 50-day EMA, bounded to [-1, 1] at +/-20%.
func momentumFactor(s Snapshot) float64 {
	dist := formulas.CalculateDistanceFromEMA(s.Closes, 50)
	if dist == nil {
		return 0
	}
	return clampUnit(*dist / 0.20)
}

// valueFactor rewards low P/E and low P/B relative to conventional
// "cheap" thresholds (P/E 15, P/B 1.5); a missing ratio contributes 0.
func valueFactor(s Snapshot) float64 {
	score := 0.0
	n := 0.0
	if s.FundamentalPE > 0 {
		score += clampUnit(1 - s.FundamentalPE/15.0)
		n++
	}
	if s.FundamentalPB > 0 {
		score += clampUnit(1 - s.FundamentalPB/1.5)
		n++
	}
	if n == 0 {
		return 0
	}
	return score / n
}

// qualityFactor rewards dividend yield up to a 5% cap, a cheap proxy for
// balance-sheet quality absent a full fundamentals feed.
func qualityFactor(s Snapshot) float64 {
	return clampUnit(s.DividendYield / 0.05)
}

// volumeFactor compares the stock's recent average volume against its
// sector's average; a stock trading well above its sector average scores
// higher (liquidity proxy).
func volumeFactor(s Snapshot) float64 {
	if len(s.Volumes) == 0 || s.SectorAvgVolume <= 0 {
		return 0
	}
	recent := formulas.Mean(tailWindow(s.Volumes, 20))
	return clampUnit((recent/s.SectorAvgVolume - 1) / 2)
}

// volatilityFactor rewards moderate volatility and penalizes extremes in
// both directions: very low volatility offers no opportunity, very high
// volatility is unmanageable risk.
func volatilityFactor(s Snapshot) float64 {
	returns := formulas.CalculateReturns(s.Closes)
	if len(returns) == 0 {
		return 0
	}
	vol := formulas.AnnualizedVolatility(returns)
	const sweet = 0.25 // annualized volatility with peak score
	return clampUnit(1 - math.Abs(vol-sweet)/sweet)
}

// technicalFactor is the candidate's position within its Bollinger Bands,
// rescaled from [0,1] to [-1,1] so a factor of 0 means "neutral" like the
// other factors, not "at the lower band".
func technicalFactor(s Snapshot) float64 {
	pos := formulas.CalculateBollingerPosition(s.Closes, 20, 2.0)
	if pos == nil {
		return 0
	}
	return clampUnit(pos.Position*2 - 1)
}

// marketStrengthFactor blends the external confidence hint (analyst
// coverage, flow data, or any other signal the caller already has) with
// the stock's own momentum, since the spec leaves "market strength" to
// implementer discretion as a function of available signals.
func marketStrengthFactor(s Snapshot) float64 {
	return clampUnit(0.5*momentumFactor(s) + 0.5*(2*s.ConfidenceHint-1))
}

// defaultVolatilityFit implements the Open Question §9 "volatility fit"
// function: a triangular score peaking at the midpoint of [min,max],
// scaled by scale, 0 outside the band.
func defaultVolatilityFit(value, min, max, scale float64) float64 {
	if max <= min {
		return 0
	}
	if value < min || value > max {
		return 0
	}
	mid := (min + max) / 2
	half := (max - min) / 2
	return scale * (1 - math.Abs(value-mid)/half)
}

func clampUnit(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}

func tailWindow(data []float64, n int) []float64 {
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}
