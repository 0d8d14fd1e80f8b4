// Package orchestration wires the Phase-1 screener, Phase-2 pipeline,
// trading engine and market calendar into the named jobs the scheduler
// dispatches against the daily job table.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/brokerage"
	"github.com/aristath/kquant-trader/internal/cache"
	"github.com/aristath/kquant-trader/internal/database"
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/modules/market_hours"
	"github.com/aristath/kquant-trader/internal/phase2"
	"github.com/aristath/kquant-trader/internal/risk"
	"github.com/aristath/kquant-trader/internal/scoring"
	"github.com/aristath/kquant-trader/internal/screener"
	"github.com/aristath/kquant-trader/internal/trading"
	"github.com/aristath/kquant-trader/pkg/formulas"
)

func today() string { return time.Now().UTC().Format("2006-01-02") }

// Phase1Job runs the pre-market universe scan and persists every emitted
// watchlist entry.
type Phase1Job struct {
	screener *screener.Screener
	store    *database.Store
	log      zerolog.Logger
}

func NewPhase1Job(s *screener.Screener, store *database.Store) *Phase1Job {
	return &Phase1Job{screener: s, store: store}
}

func (j *Phase1Job) Name() string                { return "phase1_screen" }
func (j *Phase1Job) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *Phase1Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Minute)
	defer cancel()

	stocks, err := j.store.ListStocks()
	if err != nil {
		return fmt.Errorf("phase1: load universe: %w", err)
	}

	result := j.screener.Run(ctx, stocks)
	if result.Aborted {
		j.log.Error().Float64("success_rate", result.SuccessRate).Msg("phase1: aborted, success rate below floor")
		return fmt.Errorf("phase1: aborted at success rate %.2f", result.SuccessRate)
	}

	for _, entry := range result.Watchlist {
		if err := j.store.UpsertWatchlistEntry(entry); err != nil {
			j.log.Error().Err(err).Str("code", entry.Stock.Code).Msg("phase1: watchlist upsert failed")
		}
	}

	j.log.Info().Int("scanned", result.Scanned).Int("watchlist", len(result.Watchlist)).Msg("phase1: scan complete")
	return nil
}

// IndexRegimeDetector derives the day's market regime from a broad index's
// recent daily closes, fetched through the same brokerage client used for
// individual stocks.
type IndexRegimeDetector struct {
	client      *brokerage.Client
	indexCode   string // e.g. "069500" (KODEX 200), standing in for a KOSPI index feed
	thresholds  scoring.RegimeThresholds
	historyDays int
}

func NewIndexRegimeDetector(client *brokerage.Client, indexCode string, thresholds scoring.RegimeThresholds) *IndexRegimeDetector {
	return &IndexRegimeDetector{client: client, indexCode: indexCode, thresholds: thresholds, historyDays: 90}
}

func (d *IndexRegimeDetector) Detect(ctx context.Context) (scoring.MarketRegime, error) {
	bars, err := d.client.GetDailyOHLCV(ctx, d.indexCode, d.historyDays)
	if err != nil {
		return "", fmt.Errorf("regime detector: index fetch: %w", err)
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return scoring.DetectRegime(closes, d.thresholds), nil
}

// Phase2Job runs the full batch-distribution and scoring pipeline and
// records the day's selections.
type Phase2Job struct {
	pipeline *phase2.Pipeline
	store    *database.Store
	regime   *IndexRegimeDetector
	log      zerolog.Logger
}

func NewPhase2Job(p *phase2.Pipeline, store *database.Store, regime *IndexRegimeDetector) *Phase2Job {
	return &Phase2Job{pipeline: p, store: store, regime: regime}
}

func (j *Phase2Job) Name() string                { return "phase2_selection" }
func (j *Phase2Job) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *Phase2Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Minute)
	defer cancel()

	watchlist, err := j.store.GetActiveWatchlist()
	if err != nil {
		return fmt.Errorf("phase2: load watchlist: %w", err)
	}

	regime, err := j.regime.Detect(ctx)
	if err != nil {
		j.log.Warn().Err(err).Msg("phase2: regime detection failed, defaulting to sideways")
		regime = scoring.RegimeSideways
	}

	result := j.pipeline.Run(ctx, today(), watchlist, regime)
	for _, sel := range result.Selections {
		if err := j.store.RecordDailySelection(sel); err != nil {
			j.log.Error().Err(err).Str("code", sel.Stock.Code).Msg("phase2: selection write failed")
		}
	}

	j.log.Info().Int("selected", len(result.Selections)).Float64("cvar", result.PortfolioCVaR).
		Str("regime", string(regime)).Msg("phase2: selection complete")
	return nil
}

// MarketOpenJob opens positions for today's pending selections at the
// start of the regular session.
type MarketOpenJob struct {
	store  *database.Store
	engine *trading.Engine
	client *brokerage.Client
	clock  *market_hours.Service
	equity func(ctx context.Context) (float64, error)
	log    zerolog.Logger
}

func NewMarketOpenJob(store *database.Store, engine *trading.Engine, client *brokerage.Client, clock *market_hours.Service, equity func(ctx context.Context) (float64, error)) *MarketOpenJob {
	return &MarketOpenJob{store: store, engine: engine, client: client, clock: clock, equity: equity}
}

func (j *MarketOpenJob) Name() string                { return "market_open" }
func (j *MarketOpenJob) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

// closeHistory fetches 90 days of closes for code.
func (j *MarketOpenJob) closeHistory(ctx context.Context, code string) []float64 {
	bars, err := j.client.GetDailyOHLCV(ctx, code, 90)
	if err != nil {
		return nil
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// candidateReturns fetches 90 days of closes for code and converts them to
// daily returns for the correlation gate.
func (j *MarketOpenJob) candidateReturns(ctx context.Context, code string) []float64 {
	return formulas.CalculateReturns(j.closeHistory(ctx, code))
}

// atrProxy approximates a 14-day average true range from closes alone:
// concrete technical-indicator math is treated as an external pure
// function per this tree's own scope boundary, so stop placement here
// uses the latest close times the standard deviation of daily returns
// (pkg/formulas.StdDev, not annualized) rather than a full
// high/low/close ATR implementation.
func atrProxy(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := formulas.CalculateReturns(closes)
	dailyVol := formulas.StdDev(returns)
	return closes[len(closes)-1] * dailyVol
}

func (j *MarketOpenJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	selections, err := j.store.GetDailySelections(today())
	if err != nil {
		return fmt.Errorf("market_open: load selections: %w", err)
	}

	equity, err := j.equity(ctx)
	if err != nil {
		return fmt.Errorf("market_open: equity fetch: %w", err)
	}

	positions := j.engine.Positions()
	positionReturns := make([][]float64, 0, len(positions))
	for _, pos := range positions {
		if rets := j.candidateReturns(ctx, pos.Stock.Code); len(rets) > 0 {
			positionReturns = append(positionReturns, rets)
		}
	}

	for _, sel := range selections {
		if sel.Status != domain.SelectionPending {
			continue
		}
		closes := j.closeHistory(ctx, sel.Stock.Code)
		result, err := j.engine.TryOpen(ctx, trading.OpenRequest{
			Selection:        sel,
			Confidence:       sel.Attractiveness,
			Regime:           risk.RegimeSideways,
			EquityKRW:        equity,
			ATR14:            atrProxy(closes),
			CandidateReturns: formulas.CalculateReturns(closes),
			PositionReturns:  positionReturns,
		})
		if err != nil {
			j.log.Error().Err(err).Str("code", sel.Stock.Code).Msg("market_open: open attempt failed")
			continue
		}
		if !result.Opened {
			j.log.Info().Str("code", sel.Stock.Code).Str("reason", result.Reason).Msg("market_open: entry rejected")
			continue
		}
		if err := j.store.UpdateSelectionStatus(sel.Stock.Code, sel.Date, domain.SelectionBought); err != nil {
			j.log.Error().Err(err).Str("code", sel.Stock.Code).Msg("market_open: status update failed")
		}
	}
	return nil
}

// TradingTickJob runs every five minutes during the regular session,
// refreshing prices and letting the engine manage exits.
type TradingTickJob struct {
	store  *database.Store
	engine *trading.Engine
	client *brokerage.Client
	clock  *market_hours.Service
	log    zerolog.Logger
}

func NewTradingTickJob(store *database.Store, engine *trading.Engine, client *brokerage.Client, clock *market_hours.Service) *TradingTickJob {
	return &TradingTickJob{store: store, engine: engine, client: client, clock: clock}
}

func (j *TradingTickJob) Name() string                { return "trading_tick" }
func (j *TradingTickJob) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *TradingTickJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	if !j.clock.IsOpen(now) {
		return nil
	}

	positions := j.engine.Positions()
	if len(positions) == 0 {
		return nil
	}

	prices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		quote, err := j.client.GetPrice(ctx, pos.Stock.Code)
		if err != nil {
			j.log.Warn().Err(err).Str("code", pos.Stock.Code).Msg("trading_tick: price fetch failed")
			continue
		}
		prices[pos.Stock.Code] = quote.Price
	}

	decisions := j.engine.ManageExits(ctx, now, prices, risk.RegimeSideways, nil)
	for _, d := range decisions {
		if d.Closed {
			j.log.Info().Str("code", d.Code).Str("reason", string(d.Reason)).Msg("trading_tick: position closed")
		}
	}
	return nil
}

// MarketCloseJob performs end-of-session housekeeping: forced exit of any
// position still open past the regular close.
type MarketCloseJob struct {
	store  *database.Store
	engine *trading.Engine
	client *brokerage.Client
	log    zerolog.Logger
}

func NewMarketCloseJob(store *database.Store, engine *trading.Engine, client *brokerage.Client) *MarketCloseJob {
	return &MarketCloseJob{store: store, engine: engine, client: client}
}

func (j *MarketCloseJob) Name() string                { return "market_close" }
func (j *MarketCloseJob) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *MarketCloseJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	positions := j.engine.Positions()
	if len(positions) == 0 {
		return nil
	}

	prices := make(map[string]float64, len(positions))
	forced := make(map[string]bool, len(positions))
	for _, pos := range positions {
		quote, err := j.client.GetPrice(ctx, pos.Stock.Code)
		if err != nil {
			j.log.Warn().Err(err).Str("code", pos.Stock.Code).Msg("market_close: price fetch failed")
			continue
		}
		prices[pos.Stock.Code] = quote.Price
		forced[pos.Stock.Code] = true
	}

	j.engine.ManageExits(ctx, time.Now().UTC(), prices, risk.RegimeSideways, forced)
	return nil
}

// PerfCloseoutJob is the end-of-day close-out: it marks today's remaining
// pending selections as cancelled so tomorrow's scan starts clean. It
// does not compute or log realized performance.
type PerfCloseoutJob struct {
	store *database.Store
	log   zerolog.Logger
}

func NewPerfCloseoutJob(store *database.Store) *PerfCloseoutJob {
	return &PerfCloseoutJob{store: store}
}

func (j *PerfCloseoutJob) Name() string                { return "perf_closeout" }
func (j *PerfCloseoutJob) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *PerfCloseoutJob) Run() error {
	selections, err := j.store.GetDailySelections(today())
	if err != nil {
		return fmt.Errorf("perf_closeout: load selections: %w", err)
	}
	for _, sel := range selections {
		if sel.Status == domain.SelectionPending {
			if err := j.store.UpdateSelectionStatus(sel.Stock.Code, sel.Date, domain.SelectionCancelled); err != nil {
				j.log.Error().Err(err).Str("code", sel.Stock.Code).Msg("perf_closeout: status update failed")
			}
		}
	}
	return nil
}

// CacheFlushJob clears the tiered cache at local midnight.
type CacheFlushJob struct {
	c         cache.Cache
	namespace string
	log       zerolog.Logger
}

func NewCacheFlushJob(c cache.Cache, namespace string) *CacheFlushJob {
	return &CacheFlushJob{c: c, namespace: namespace}
}

func (j *CacheFlushJob) Name() string                { return "cache_flush" }
func (j *CacheFlushJob) SetLogger(log zerolog.Logger) { j.log = log.With().Str("job", j.Name()).Logger() }

func (j *CacheFlushJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return j.c.Flush(ctx, j.namespace)
}

// EquityFromBalance adapts brokerage.Client.GetAccountBalance to the
// MarketOpenJob equity function, kept free of the formulas import cycle by
// living alongside the jobs that need it.
func EquityFromBalance(client *brokerage.Client) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		balance, err := client.GetAccountBalance(ctx)
		if err != nil {
			return 0, err
		}
		return balance.Equity, nil
	}
}

// SectorAverageVolumes computes the trailing average daily volume per
// sector across stocks, used to populate scoring.Snapshot.SectorAvgVolume
// ahead of a screening run.
func SectorAverageVolumes(ctx context.Context, source *brokerage.MarketDataSource, stocks []domain.Stock) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, st := range stocks {
		snap, err := source.Snapshot(ctx, st)
		if err != nil || len(snap.Volumes) == 0 {
			continue
		}
		sums[st.Sector] += formulas.Mean(snap.Volumes)
		counts[st.Sector]++
	}
	out := make(map[string]float64, len(sums))
	for sector, sum := range sums {
		out[sector] = sum / float64(counts[sector])
	}
	return out
}
