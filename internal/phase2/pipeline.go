package phase2

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/risk"
	"github.com/aristath/kquant-trader/internal/scoring"
	"github.com/aristath/kquant-trader/pkg/formulas"
)

// DataSource supplies the price/fundamental snapshot a watchlist stock is
// scored from, the same contract the Phase-1 screener consumes.
type DataSource interface {
	Snapshot(ctx context.Context, stock domain.Stock) (scoring.Snapshot, error)
}

// BatchState is a batch's position in the Pending -> Running ->
// (Completed | Failed) state machine.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
	BatchSkipped   BatchState = "skipped"
)

const (
	maxBatchRetries   = 2 // failed batches are retried up to twice
	batchRetryBaseDelay = 2 * time.Second
)

// Config parameterizes a Phase-2 run. All fields are sourced from
// config.Phase2Config; none are hardcoded in the pipeline itself.
type Config struct {
	NumBatches    int
	SafetyFilter  SafetyFilterConfig
	PriorityW     PriorityWeights
	VolFitMin     float64
	VolFitMax     float64
	VolFitScale   float64
	TargetCounts  TargetCounts
	SectorCap     int
	CorrThreshold float64
	Weights       domain.FactorWeights
	CVaRConfidence float64 // default 0.95
}

// PriorityWeights mirrors scoring.PriorityWeights; duplicated as a plain
// value type so callers building Config don't need to import scoring just
// for this struct.
type PriorityWeights = scoring.PriorityWeights

// TargetCounts is the regime-adaptive selection size table.
type TargetCounts struct {
	Bullish, Neutral, Bearish int
}

// Result is the outcome of one Phase-2 run.
type Result struct {
	Selections    []domain.DailySelection
	Weights       map[string]float64 // stock code -> portfolio weight
	BatchStates   map[int]BatchState
	PortfolioCVaR float64 // Conditional Value at Risk of the weighted selection, 0 if fewer than 2 codes
}

// Pipeline runs the batch distributor and scoring pipeline.
type Pipeline struct {
	source   DataSource
	registry *scoring.Registry
	store    *ArtifactStore
	cfg      Config
	log      zerolog.Logger
}

// New constructs a Pipeline.
func New(source DataSource, registry *scoring.Registry, store *ArtifactStore, cfg Config, log zerolog.Logger) *Pipeline {
	if cfg.NumBatches <= 0 {
		cfg.NumBatches = 18
	}
	if cfg.CVaRConfidence <= 0 {
		cfg.CVaRConfidence = 0.95
	}
	return &Pipeline{source: source, registry: registry, store: store, cfg: cfg, log: log.With().Str("component", "phase2").Logger()}
}

// Run executes the full pipeline for date (YYYY-MM-DD) over watchlist,
// which should be the currently-active Phase-1 entries. regime drives the
// adaptive selection target count.
func (p *Pipeline) Run(ctx context.Context, date string, watchlist []domain.WatchlistEntry, regime scoring.MarketRegime) Result {
	states := make(map[int]BatchState, p.cfg.NumBatches)
	if len(watchlist) == 0 {
		for i := 0; i < p.cfg.NumBatches; i++ {
			states[i] = BatchSkipped
			p.store.Write(domain.BatchArtifact{BatchID: i, Date: date, Skipped: true, SkipReason: "empty watchlist", CompletedAt: time.Now().UTC()})
		}
		return Result{BatchStates: states}
	}

	prioritized := p.prioritize(ctx, watchlist)
	SortByPriorityDescending(prioritized)
	batches := Distribute(prioritized, p.cfg.NumBatches)

	var allScored []ScoredCandidate
	closesByCode := make(map[string][]float64)

	for id, stocks := range batches {
		candidates, closes, state := p.runBatchWithRetry(ctx, date, id, stocks)
		states[id] = state
		allScored = append(allScored, candidates...)
		for code, c := range closes {
			closesByCode[code] = c
		}
	}

	target := scoring.TargetCount(regime, p.cfg.TargetCounts.Bullish, p.cfg.TargetCounts.Neutral, p.cfg.TargetCounts.Bearish)
	selected := SelectAdaptive(allScored, target, p.cfg.SectorCap)

	codes := make([]string, len(selected))
	for i, c := range selected {
		codes[i] = c.Stock.Code
	}
	weights := OptimizeWeights(codes, closesByCode, p.cfg.CorrThreshold, p.log)

	selections := make([]domain.DailySelection, 0, len(selected))
	for _, c := range selected {
		closes := closesByCode[c.Stock.Code]
		entryPrice := 0.0
		if len(closes) > 0 {
			entryPrice = closes[len(closes)-1]
		}
		selections = append(selections, domain.DailySelection{
			Stock:                 c.Stock,
			Date:                  date,
			EntryPriceAtSelection: entryPrice,
			Attractiveness:        c.Composite,
			RiskScore:             c.RiskScore,
			SignalCount:           1,
			TargetPositionFrac:    weights[c.Stock.Code],
			Status:                domain.SelectionPending,
		})
	}

	portfolioCVaR := 0.0
	if len(weights) >= 2 {
		returnsByCode := make(map[string][]float64, len(weights))
		for code := range weights {
			returnsByCode[code] = formulas.CalculateReturns(closesByCode[code])
		}
		portfolioCVaR = risk.NewCVaRCalculator(p.log).PortfolioCVaR(weights, returnsByCode, p.cfg.CVaRConfidence)
	}

	return Result{Selections: selections, Weights: weights, BatchStates: states, PortfolioCVaR: portfolioCVaR}
}

// prioritize computes the composite priority (technical, volume trend,
// volatility fit) for every watchlist entry ahead of batch distribution.
func (p *Pipeline) prioritize(ctx context.Context, watchlist []domain.WatchlistEntry) []Prioritized {
	out := make([]Prioritized, 0, len(watchlist))
	for _, entry := range watchlist {
		snap, err := p.source.Snapshot(ctx, entry.Stock)
		if err != nil {
			p.log.Warn().Err(err).Str("code", entry.Stock.Code).Msg("phase2: snapshot failed during prioritization")
			continue
		}
		volumeTrend, _ := p.registry.Factor("volume", snap)
		volatility := formulas.AnnualizedVolatility(formulas.CalculateReturns(snap.Closes))
		priority := scoring.CompositePriority(p.registry, entry.TechnicalScore, volumeTrend, volatility, p.cfg.VolFitMin, p.cfg.VolFitMax, p.cfg.VolFitScale, p.cfg.PriorityW)
		out = append(out, Prioritized{Stock: entry.Stock, Priority: priority})
	}
	return out
}

// runBatchWithRetry drives one batch through Pending -> Running ->
// (Completed | Failed), retrying up to maxBatchRetries times with
// exponential backoff before marking the batch skipped.
func (p *Pipeline) runBatchWithRetry(ctx context.Context, date string, batchID int, stocks []domain.Stock) ([]ScoredCandidate, map[string][]float64, BatchState) {
	var lastErr error
	for attempt := 0; attempt <= maxBatchRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * batchRetryBaseDelay
			select {
			case <-ctx.Done():
				return nil, nil, BatchFailed
			case <-time.After(delay):
			}
		}
		candidates, closes, err := p.runBatch(ctx, stocks)
		if err == nil {
			if werr := p.store.Write(batchArtifact(batchID, date, candidates)); werr != nil {
				lastErr = werr
				continue
			}
			return candidates, closes, BatchCompleted
		}
		lastErr = err
		p.log.Warn().Err(err).Int("batch", batchID).Int("attempt", attempt+1).Msg("phase2: batch attempt failed")
	}

	p.log.Error().Err(lastErr).Int("batch", batchID).Msg("phase2: batch exhausted retries, skipping")
	p.store.Write(domain.BatchArtifact{BatchID: batchID, Date: date, Skipped: true, SkipReason: lastErr.Error(), CompletedAt: time.Now().UTC()})
	return nil, nil, BatchFailed
}

func batchArtifact(batchID int, date string, candidates []ScoredCandidate) domain.BatchArtifact {
	rows := make([]domain.BatchCandidate, len(candidates))
	for i, c := range candidates {
		rows[i] = domain.BatchCandidate{Stock: c.Stock, PriorityScore: c.Composite, Factors: c.Factors}
	}
	return domain.BatchArtifact{BatchID: batchID, Date: date, Candidates: rows, CompletedAt: time.Now().UTC()}
}

// runBatch fetches data, applies the safety filter, and scores every
// surviving candidate. Candidates are fetched concurrently by the caller's
// DataSource implementation if it chooses to; this method itself is
// sequential per batch since a single batch is already rate-limited to a
// handful of stocks.
func (p *Pipeline) runBatch(ctx context.Context, stocks []domain.Stock) ([]ScoredCandidate, map[string][]float64, error) {
	scored := make([]ScoredCandidate, 0, len(stocks))
	closes := make(map[string][]float64, len(stocks))

	for _, stock := range stocks {
		snap, err := p.source.Snapshot(ctx, stock)
		if err != nil {
			p.log.Warn().Err(err).Str("code", stock.Code).Msg("phase2: snapshot fetch failed, dropping candidate")
			continue
		}
		factors, err := scoring.ComputeFactors(p.registry, snap)
		if err != nil {
			p.log.Warn().Err(err).Str("code", stock.Code).Msg("phase2: factor computation failed, dropping candidate")
			continue
		}

		candidate := ScoredCandidate{
			Stock:          stock,
			Factors:        factors,
			RiskScore:      1 - factors.Volatility,
			VolumeScore:    factors.Volume,
			ConfidenceHint: snap.ConfidenceHint,
		}
		if !PassesSafetyFilter(candidate, p.cfg.SafetyFilter) {
			continue
		}
		scored = append(scored, candidate)
		closes[stock.Code] = snap.Closes
	}

	zScoreCandidates := make([]scoring.Candidate, len(scored))
	for i, c := range scored {
		zScoreCandidates[i] = scoring.Candidate{Stock: c.Stock, Factors: c.Factors}
	}
	scoring.NormalizeZScore(zScoreCandidates)
	for i := range scored {
		scored[i].Factors = zScoreCandidates[i].Factors
		scored[i].Composite = scoring.CompositeScore(scored[i].Factors, p.cfg.Weights)
	}

	return scored, closes, nil
}
