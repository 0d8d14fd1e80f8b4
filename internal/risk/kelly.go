// Package risk implements position sizing, drawdown monitoring and the
// circuit breaker that gate every order the trading engine places.
package risk

import (
	"math"

	"github.com/rs/zerolog"
)

// Regime is the market state used to scale position sizes.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeSideways Regime = "sideways"
	RegimeBear     Regime = "bear"
	RegimeHighVol  Regime = "high_vol"
)

// RegimeMultipliers maps a Regime to its Kelly-fraction multiplier.
type RegimeMultipliers struct {
	Bull     float64
	Sideways float64
	Bear     float64
	HighVol  float64
}

func (m RegimeMultipliers) forRegime(r Regime) float64 {
	switch r {
	case RegimeBull:
		return m.Bull
	case RegimeSideways:
		return m.Sideways
	case RegimeBear:
		return m.Bear
	case RegimeHighVol:
		return m.HighVol
	default:
		return m.Sideways
	}
}

// TradeOutcome is the minimal history KellySizer needs per closed trade.
type TradeOutcome struct {
	PnLFraction float64 // realized P&L as a fraction of the position's cost basis
}

// KellySizer turns trade history and a signal's confidence into a
// position size, expressed as a fraction of account equity. Retains the
// teacher's multi-stage pipeline shape (raw fraction, half-Kelly, confidence
// and regime scaling, loss-streak shrink, then a final clamp to
// [MinFraction, MaxFraction]) over a different formula: the
// teacher sizes from expected-return/variance, this sizes from win rate
// and payoff ratio per a broker-agnostic Kelly definition.
type KellySizer struct {
	minTrades  int
	minFrac    float64
	maxFrac    float64
	halfKelly  float64
	multipliers RegimeMultipliers
	defaultFrac float64
	log        zerolog.Logger
}

// Config bundles the sizer's tunables, sourced from internal/config.
type Config struct {
	MinTrades   int
	MinFraction float64
	MaxFraction float64
	HalfKelly   float64 // 0.5 applies half-Kelly; 1.0 disables the haircut
	DefaultFraction float64
	Multipliers RegimeMultipliers
}

// NewKellySizer constructs a KellySizer from cfg.
func NewKellySizer(cfg Config, log zerolog.Logger) *KellySizer {
	return &KellySizer{
		minTrades:       cfg.MinTrades,
		minFrac:         cfg.MinFraction,
		maxFrac:         cfg.MaxFraction,
		halfKelly:       cfg.HalfKelly,
		multipliers:     cfg.Multipliers,
		defaultFrac:     cfg.DefaultFraction,
		log:             log.With().Str("component", "kelly").Logger(),
	}
}

// Size returns the position size as a fraction of equity for a candidate
// with the given signal confidence, under regime and consecutive-loss
// history. history holds the trader's most recent completed trades.
func (k *KellySizer) Size(history []TradeOutcome, confidence float64, regime Regime, consecutiveLosses int) float64 {
	if len(history) < k.minTrades {
		return k.clamp(k.defaultFrac)
	}

	f := kellyFraction(history)
	f *= k.halfKelly
	f *= confidence
	f *= k.multipliers.forRegime(regime)
	f *= lossStreakShrink(consecutiveLosses)

	return k.clamp(f)
}

func (k *KellySizer) clamp(f float64) float64 {
	if f < k.minFrac {
		return k.minFrac
	}
	if f > k.maxFrac {
		return k.maxFrac
	}
	return f
}

// kellyFraction computes f* = (p*b - q) / b from trade history, where p is
// the win rate, q = 1-p, and b is the ratio of average win to average loss
// magnitude. Returns 0 when there is no edge or losses are degenerate.
func kellyFraction(history []TradeOutcome) float64 {
	var wins, losses int
	var sumWin, sumLoss float64

	for _, t := range history {
		if t.PnLFraction > 0 {
			wins++
			sumWin += t.PnLFraction
		} else if t.PnLFraction < 0 {
			losses++
			sumLoss += -t.PnLFraction
		}
	}

	if wins == 0 || losses == 0 {
		return 0
	}

	p := float64(wins) / float64(len(history))
	q := 1 - p
	avgWin := sumWin / float64(wins)
	avgLoss := sumLoss / float64(losses)
	if avgLoss <= 0 {
		return 0
	}
	b := avgWin / avgLoss

	f := (p*b - q) / b
	if f < 0 {
		return 0
	}
	return f
}

// lossStreakShrink applies the consecutive-loss haircut.
func lossStreakShrink(consecutiveLosses int) float64 {
	switch {
	case consecutiveLosses >= 5:
		return 0.3
	case consecutiveLosses >= 3:
		return 0.6
	default:
		return 1.0
	}
}

// roundTo2 rounds f to two decimal places.
func roundTo2(f float64) float64 {
	return math.Round(f*100) / 100
}
