package trading

import (
	"context"
	"time"

	"github.com/aristath/kquant-trader/internal/brokerage"
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/risk"
)

// ExitReason names why a position was closed or its stop adjusted.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitTimeLimit   ExitReason = "time_limit"
	ExitForcedEvent ExitReason = "pre_event_forced"
)

// ExitDecision reports one position's exit outcome for this tick.
type ExitDecision struct {
	Code   string
	Closed bool
	Reason ExitReason
}

// ManageExits evaluates every open position against current prices and
// the per-regime stop parameters, adjusting trailing stops in place and
// closing positions whose exit condition has been met. forcedExitCodes
// names positions that must close immediately regardless of price
// (pre-event forced exit), supplied by the caller since the event
// calendar is outside this package's scope.
func (e *Engine) ManageExits(ctx context.Context, now time.Time, prices map[string]float64, regime risk.Regime, forcedExitCodes map[string]bool) []ExitDecision {
	e.mu.Lock()
	codes := make([]string, 0, len(e.positions))
	for code := range e.positions {
		codes = append(codes, code)
	}
	e.mu.Unlock()

	var decisions []ExitDecision
	params := risk.StopParamsByRegime(regime)

	for _, code := range codes {
		price, ok := prices[code]
		if !ok {
			continue
		}

		e.mu.Lock()
		pos, exists := e.positions[code]
		if exists {
			pos.CurrentPrice = price
			pos.StopLoss = risk.TrailingStop(pos.StopLoss, price, pos.ATREntry, params)
			e.positions[code] = pos
		}
		e.mu.Unlock()
		if !exists {
			continue
		}

		reason, shouldClose := evaluateExit(pos, price, now, e.cfg.MaxHoldingDays, forcedExitCodes[code])
		if !shouldClose {
			continue
		}

		if err := e.closePosition(ctx, pos, price, reason); err != nil {
			e.log.Error().Err(err).Str("code", code).Msg("trading: exit failed")
			continue
		}
		decisions = append(decisions, ExitDecision{Code: code, Closed: true, Reason: reason})
	}
	return decisions
}

func evaluateExit(pos domain.Position, price float64, now time.Time, maxHoldingDays int, forced bool) (ExitReason, bool) {
	if forced {
		return ExitForcedEvent, true
	}
	if price <= pos.StopLoss {
		return ExitStopLoss, true
	}
	if price >= pos.TakeProfit {
		return ExitTakeProfit, true
	}
	if now.Sub(pos.OpenedAt) >= time.Duration(maxHoldingDays)*24*time.Hour {
		return ExitTimeLimit, true
	}
	return "", false
}

func (e *Engine) closePosition(ctx context.Context, pos domain.Position, price float64, reason ExitReason) error {
	ack, err := e.placeOrderSerialized(ctx, domain.SideSell, pos.Stock.Code, pos.Quantity, price, brokerage.OrderMarket)
	if err != nil {
		return err
	}

	pnl := (ack.FilledPrice - pos.WeightedEntry) * pos.Quantity
	pnlFraction := 0.0
	if pos.WeightedEntry > 0 {
		pnlFraction = (ack.FilledPrice - pos.WeightedEntry) / pos.WeightedEntry
	}

	e.mu.Lock()
	delete(e.positions, pos.Stock.Code)
	e.mu.Unlock()

	now := time.Now().UTC()
	e.recordFill(pos.Stock, domain.SideSell, price, ack, now, &pnl)
	e.recordOutcome(pnlFraction)

	if err := e.recorder.RemovePosition(pos.Stock.Code); err != nil {
		e.log.Error().Err(err).Msg("trading: position removal failed")
	}

	e.log.Info().Str("code", pos.Stock.Code).Str("reason", string(reason)).Float64("pnl", pnl).Msg("trading: position closed")
	return nil
}
