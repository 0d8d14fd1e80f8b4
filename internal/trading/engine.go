// Package trading implements the execution engine: it consumes the day's
// DailySelection rows, opens positions subject to Risk & Sizing Core
// approval, and manages exits (stop/take-profit/trailing/time-based/
// forced).
package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/brokerage"
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/risk"
)

// Broker is the subset of brokerage.Client the engine needs. Narrowed to
// an interface so tests can substitute a fake.
type Broker interface {
	GetPrice(ctx context.Context, code string) (brokerage.Quote, error)
	PlaceOrder(ctx context.Context, side domain.Side, code string, qty, price float64, orderType brokerage.OrderType) (brokerage.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Recorder persists the records the engine owns exclusively. Decoupled
// from a concrete store so the database layer can be swapped without
// touching engine logic.
type Recorder interface {
	RecordTrade(domain.TradeRecord) error
	UpsertPosition(domain.Position) error
	RemovePosition(code string) error
	LogError(domain.ErrorLogRow) error
}

// MarketClock reports whether KRX is in its regular session, satisfied by
// market_hours.Service. Narrowed to an interface for the same reason as
// Broker and Recorder: the engine should not import the concrete calendar
// implementation to exercise it in tests.
type MarketClock interface {
	IsOpen(t time.Time) bool
}

// Config parameterizes the engine. All fields are config-driven.
type Config struct {
	MaxHoldingDays   int     // default 20
	SlippageWarnFrac float64 // default 0.005 (0.5%)
}

// Engine is the single-writer owner of TradeRecord and Position state.
// Order placement is serialized per account via orderMu per SPEC_FULL.md
// §5's "one outstanding order request at a time" requirement.
type Engine struct {
	broker   Broker
	recorder Recorder
	clock    MarketClock
	kelly    *risk.KellySizer
	corrGate *risk.CorrelationGate
	breaker  *risk.CircuitBreaker
	drawdown *risk.Monitor
	cfg      Config
	log      zerolog.Logger

	orderMu sync.Mutex

	mu           sync.Mutex
	positions    map[string]domain.Position
	kellyHistory []risk.TradeOutcome
	nextTradeID  int64
}

// New constructs an Engine. clock gates TryOpen to KRX's regular session;
// ManageExits runs unconditionally so a closing position is never stuck
// open past the caller's own schedule.
func New(broker Broker, recorder Recorder, clock MarketClock, kelly *risk.KellySizer, corrGate *risk.CorrelationGate, breaker *risk.CircuitBreaker, drawdown *risk.Monitor, cfg Config, log zerolog.Logger) *Engine {
	if cfg.MaxHoldingDays <= 0 {
		cfg.MaxHoldingDays = 20
	}
	if cfg.SlippageWarnFrac <= 0 {
		cfg.SlippageWarnFrac = 0.005
	}
	return &Engine{
		broker: broker, recorder: recorder, clock: clock, kelly: kelly, corrGate: corrGate,
		breaker: breaker, drawdown: drawdown, cfg: cfg,
		log:       log.With().Str("component", "trading").Logger(),
		positions: make(map[string]domain.Position),
	}
}

// Positions returns a snapshot of currently open positions.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out
}

// OpenRequest is everything the engine needs to evaluate and, if
// approved, execute one buy.
type OpenRequest struct {
	Selection         domain.DailySelection
	Confidence        float64 // in [0,1], drives Kelly sizing
	Regime            risk.Regime
	ConsecutiveLosses int
	ATR14             float64
	EquityKRW         float64
	CandidateReturns  []float64   // trailing 60-day returns for correlation gating
	PositionReturns   [][]float64 // trailing 60-day returns of each open position
}

// OpenResult reports the outcome of an open attempt.
type OpenResult struct {
	Opened bool
	Reason string // populated when Opened is false: "circuit open", "correlation cap", "drawdown halt", etc.
}

// TryOpen evaluates req against every Risk & Sizing Core gate in order and,
// if approved, places the buy order. Rejections never place an order and
// never retry the candidate.
func (e *Engine) TryOpen(ctx context.Context, req OpenRequest) (OpenResult, error) {
	now := time.Now().UTC()
	if e.clock != nil && !e.clock.IsOpen(now) {
		return OpenResult{Reason: "market closed"}, nil
	}

	if tripped, reason := e.breaker.Tripped(now); tripped {
		e.log.Warn().Str("code", req.Selection.Stock.Code).Str("reason", string(reason)).Msg("trading: buy refused, circuit open")
		return OpenResult{Reason: "circuit open"}, nil
	}

	if resp := e.drawdown.Observe(req.EquityKRW); resp == risk.ResponseHaltEntries || resp == risk.ResponseCloseHalf || resp == risk.ResponseCloseAll {
		return OpenResult{Reason: "drawdown halt"}, nil
	}

	if allow, reason := e.corrGate.Allow(req.CandidateReturns, req.PositionReturns); !allow {
		e.log.Info().Str("code", req.Selection.Stock.Code).Str("reason", reason).Msg("trading: buy rejected")
		return OpenResult{Reason: reason}, nil
	}

	e.mu.Lock()
	history := append([]risk.TradeOutcome(nil), e.kellyHistory...)
	e.mu.Unlock()

	frac := e.kelly.Size(history, req.Confidence, req.Regime, req.ConsecutiveLosses)
	positionValue := frac * req.EquityKRW

	quote, err := e.broker.GetPrice(ctx, req.Selection.Stock.Code)
	if err != nil {
		return OpenResult{}, fmt.Errorf("trading: price fetch for %s: %w", req.Selection.Stock.Code, err)
	}
	if quote.Price <= 0 {
		return OpenResult{}, fmt.Errorf("trading: non-positive quote for %s", req.Selection.Stock.Code)
	}
	qty := positionValue / quote.Price
	if qty <= 0 {
		return OpenResult{Reason: "zero sized"}, nil
	}

	ack, err := e.placeOrderSerialized(ctx, domain.SideBuy, req.Selection.Stock.Code, qty, quote.Price, brokerage.OrderMarket)
	if err != nil {
		return OpenResult{}, err
	}

	stopParams := risk.StopParamsByRegime(req.Regime)
	stopLoss, takeProfit := risk.InitialStops(ack.FilledPrice, req.ATR14, stopParams)

	e.mu.Lock()
	e.positions[req.Selection.Stock.Code] = domain.Position{
		Stock: req.Selection.Stock, Quantity: ack.FilledQty, WeightedEntry: ack.FilledPrice,
		CurrentPrice: ack.FilledPrice, ATREntry: req.ATR14, StopLoss: stopLoss, TakeProfit: takeProfit,
		OpenedAt: now,
	}
	e.mu.Unlock()

	e.recordFill(req.Selection.Stock, domain.SideBuy, quote.Price, ack, now, nil)
	if err := e.recorder.UpsertPosition(e.positions[req.Selection.Stock.Code]); err != nil {
		e.log.Error().Err(err).Msg("trading: position upsert failed")
	}

	return OpenResult{Opened: true}, nil
}

func (e *Engine) placeOrderSerialized(ctx context.Context, side domain.Side, code string, qty, price float64, orderType brokerage.OrderType) (brokerage.OrderAck, error) {
	e.orderMu.Lock()
	defer e.orderMu.Unlock()
	return e.broker.PlaceOrder(ctx, side, code, qty, price, orderType)
}

// recordFill builds and persists a TradeRecord, checks slippage, and logs
// an ErrorLogRow only if the fill deviates from policy (slippage above
// the configured warning fraction).
func (e *Engine) recordFill(stock domain.Stock, side domain.Side, requestedPrice float64, ack brokerage.OrderAck, at time.Time, realizedPnL *float64) {
	slippage := 0.0
	if requestedPrice > 0 {
		slippage = (ack.FilledPrice - requestedPrice) / requestedPrice
		if slippage < 0 {
			slippage = -slippage
		}
	}

	record := domain.TradeRecord{
		Stock: stock, Side: side, RequestedPrice: requestedPrice, FilledPrice: ack.FilledPrice,
		Quantity: ack.FilledQty, SlippageFrac: slippage, RealizedPnL: realizedPnL,
		EntryTime: at, StrategyTag: "phase2_daily_selection",
	}
	if side == domain.SideSell {
		record.ExitTime = &at
	}
	if err := e.recorder.RecordTrade(record); err != nil {
		e.log.Error().Err(err).Msg("trading: trade record write failed")
	}

	if slippage > e.cfg.SlippageWarnFrac {
		e.log.Warn().Str("code", stock.Code).Float64("slippage_fraction", slippage).Msg("trading: slippage above policy threshold")
		row := domain.NewErrorLogRow(domain.SeverityWarning, "trading", "engine",
			fmt.Sprintf("fill slippage %.4f exceeds policy threshold %.4f", slippage, e.cfg.SlippageWarnFrac),
			"", "slippage_deviation", "")
		if err := e.recorder.LogError(row); err != nil {
			e.log.Error().Err(err).Msg("trading: error log write failed")
		}
	}
}

// recordOutcome appends to the bounded Kelly history window, keeping the
// most recent maxKellyHistory trades.
const maxKellyHistory = 200

func (e *Engine) recordOutcome(pnlFraction float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kellyHistory = append(e.kellyHistory, risk.TradeOutcome{PnLFraction: pnlFraction})
	if len(e.kellyHistory) > maxKellyHistory {
		e.kellyHistory = e.kellyHistory[len(e.kellyHistory)-maxKellyHistory:]
	}
}
