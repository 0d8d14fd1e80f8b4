package risk

// StopParams are the ATR multipliers for stop-loss/take-profit, tuned per
// market regime.
type StopParams struct {
	StopMultiplier   float64 // k in entry - k*ATR
	ProfitMultiplier float64 // m in entry + m*ATR
}

// StopParamsByRegime gives the spec's default regime-dependent multipliers.
func StopParamsByRegime(r Regime) StopParams {
	switch r {
	case RegimeBull:
		return StopParams{StopMultiplier: 2.5, ProfitMultiplier: 4.0}
	case RegimeBear:
		return StopParams{StopMultiplier: 1.5, ProfitMultiplier: 2.0}
	case RegimeHighVol:
		return StopParams{StopMultiplier: 1.5, ProfitMultiplier: 2.5}
	default: // sideways
		return StopParams{StopMultiplier: 2.0, ProfitMultiplier: 3.0}
	}
}

// InitialStops computes the stop-loss and take-profit for a new position
// from its entry price and ATR(14) at entry.
func InitialStops(entry, atr float64, params StopParams) (stopLoss, takeProfit float64) {
	return entry - params.StopMultiplier*atr, entry + params.ProfitMultiplier*atr
}

// TrailingStop recomputes the stop-loss as price advances. A trailing
// stop only ever moves up; it never retreats even if price pulls back.
func TrailingStop(currentStop, price, atr float64, params StopParams) float64 {
	candidate := price - params.StopMultiplier*atr
	if candidate > currentStop {
		return candidate
	}
	return currentStop
}
