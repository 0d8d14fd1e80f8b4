// Package screener implements the Phase-1 universe-wide daily scan: a
// bounded-parallel fan-out over every listed stock that fetches price and
// fundamental data, computes a composite score through the pluggable
// scoring registry, and emits the watchlist entries that clear a
// configured threshold.
package screener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/scoring"
)

// DataSource supplies the snapshot a candidate stock is scored from. A
// failure for one stock never aborts the scan; it is reported and counted
// against the success-rate gate.
type DataSource interface {
	Snapshot(ctx context.Context, stock domain.Stock) (scoring.Snapshot, error)
}

// Config parameterizes a screening run. All fields are sourced from the
// external config file; none are hardcoded in this package.
type Config struct {
	Workers         int
	MinSuccessRate  float64 // default 0.9
	ScoreThreshold  float64 // minimum total score to enter the watchlist
	MaxWatchlist    int     // cap on emitted entries, e.g. 100
	Weights         domain.FactorWeights
}

// Result is the outcome of one screening run.
type Result struct {
	Watchlist   []domain.WatchlistEntry
	Scanned     int
	Succeeded   int
	SuccessRate float64
	Aborted     bool // true if success rate fell below Config.MinSuccessRate
}

// Screener runs the Phase-1 scan.
type Screener struct {
	source   DataSource
	registry *scoring.Registry
	cfg      Config
	log      zerolog.Logger
}

// New constructs a Screener.
func New(source DataSource, registry *scoring.Registry, cfg Config, log zerolog.Logger) *Screener {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.9
	}
	return &Screener{source: source, registry: registry, cfg: cfg, log: log.With().Str("component", "screener").Logger()}
}

type scanJob struct {
	index int
	stock domain.Stock
}

type scanOutcome struct {
	index int
	entry *domain.WatchlistEntry
	err   error
}

// Run scans universe and returns the surviving watchlist. The scan uses a
// bounded worker pool (the teacher's own evaluation worker-pool shape:
// jobs channel in, results channel out, WaitGroup drains workers before
// results is closed) so the caller never spawns more goroutines than
// Config.Workers regardless of universe size.
func (s *Screener) Run(ctx context.Context, universe []domain.Stock) Result {
	numStocks := len(universe)
	if numStocks == 0 {
		return Result{SuccessRate: 1}
	}

	numWorkers := s.cfg.Workers
	if numStocks < numWorkers {
		numWorkers = numStocks
	}

	jobs := make(chan scanJob, numStocks)
	outcomes := make(chan scanOutcome, numStocks)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs, outcomes)
		}()
	}

	for idx, stock := range universe {
		jobs <- scanJob{index: idx, stock: stock}
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	entries := make([]domain.WatchlistEntry, 0, numStocks)
	succeeded := 0
	for outcome := range outcomes {
		if outcome.err != nil {
			s.log.Warn().Err(outcome.err).Msg("screener: stock scan failed")
			continue
		}
		succeeded++
		if outcome.entry != nil {
			entries = append(entries, *outcome.entry)
		}
	}

	successRate := float64(succeeded) / float64(numStocks)
	if successRate < s.cfg.MinSuccessRate {
		s.log.Error().Float64("success_rate", successRate).Float64("floor", s.cfg.MinSuccessRate).
			Msg("screener: universe scan success rate below floor")
		return Result{Scanned: numStocks, Succeeded: succeeded, SuccessRate: successRate, Aborted: true}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].TotalScore > entries[j].TotalScore })
	if len(entries) > s.cfg.MaxWatchlist && s.cfg.MaxWatchlist > 0 {
		entries = entries[:s.cfg.MaxWatchlist]
	}

	return Result{
		Watchlist:   entries,
		Scanned:     numStocks,
		Succeeded:   succeeded,
		SuccessRate: successRate,
	}
}

func (s *Screener) worker(ctx context.Context, jobs <-chan scanJob, outcomes chan<- scanOutcome) {
	for job := range jobs {
		entry, err := s.scoreOne(ctx, job.stock)
		outcomes <- scanOutcome{index: job.index, entry: entry, err: err}
	}
}

func (s *Screener) scoreOne(ctx context.Context, stock domain.Stock) (*domain.WatchlistEntry, error) {
	snap, err := s.source.Snapshot(ctx, stock)
	if err != nil {
		return nil, err
	}

	factors, err := scoring.ComputeFactors(s.registry, snap)
	if err != nil {
		return nil, err
	}

	total := scoring.CompositeScore(factors, s.cfg.Weights)
	if total < s.cfg.ScoreThreshold {
		return nil, nil
	}

	return &domain.WatchlistEntry{
		Stock:            stock,
		FundamentalScore: factors.Value,
		TechnicalScore:   factors.Technical,
		MomentumScore:    factors.Momentum,
		TotalScore:       total,
		AddedAt:          time.Now().UTC(),
		Active:           true,
	}, nil
}
