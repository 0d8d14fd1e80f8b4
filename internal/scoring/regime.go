package scoring

import "github.com/aristath/kquant-trader/pkg/formulas"

// MarketRegime is the discrete market-state label driving both the Risk
// Core's position-sizing multipliers and Phase-2's target selection count.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeSideways MarketRegime = "sideways"
	RegimeBear     MarketRegime = "bear"
	RegimeHighVol  MarketRegime = "high_vol"
)

// RegimeThresholds parameterizes DetectRegime; all four fields are
// config-driven, never hardcoded in a code path.
type RegimeThresholds struct {
	BullReturn    float64 // annualized index return over the lookback above which regime is bull
	BearReturn    float64 // annualized index return below which regime is bear
	HighVolLevel  float64 // annualized volatility above which regime is high_vol regardless of return
}

// DetectRegime classifies the trailing window of index closes per §9's
// "disjoint" treatment: high-volatility takes precedence over the
// return-based bull/sideways/bear classification.
func DetectRegime(indexCloses []float64, t RegimeThresholds) MarketRegime {
	returns := formulas.CalculateReturns(indexCloses)
	if len(returns) == 0 {
		return RegimeSideways
	}

	vol := formulas.AnnualizedVolatility(returns)
	if vol >= t.HighVolLevel {
		return RegimeHighVol
	}

	cumulative := formulas.CalculateAnnualReturn(returns)
	switch {
	case cumulative >= t.BullReturn:
		return RegimeBull
	case cumulative <= t.BearReturn:
		return RegimeBear
	default:
		return RegimeSideways
	}
}

// TargetCount maps a regime to Phase-2's adaptive selection size.
func TargetCount(regime MarketRegime, bullish, neutral, bearish int) int {
	switch regime {
	case RegimeBull:
		return bullish
	case RegimeBear:
		return bearish
	default:
		return neutral
	}
}
