package screener

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/scoring"
)

type fakeSource struct {
	failFor map[string]bool
}

func risingCloses(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * (1 + 0.001*float64(i))
	}
	return out
}

func (f *fakeSource) Snapshot(ctx context.Context, stock domain.Stock) (scoring.Snapshot, error) {
	if f.failFor[stock.Code] {
		return scoring.Snapshot{}, fmt.Errorf("fetch failed for %s", stock.Code)
	}
	return scoring.Snapshot{
		Code:            stock.Code,
		Closes:          risingCloses(60, 1000),
		Volumes:         risingCloses(60, 1000),
		SectorAvgVolume: 1000,
	}, nil
}

func universe(n int) []domain.Stock {
	stocks := make([]domain.Stock, n)
	for i := range stocks {
		stocks[i] = domain.Stock{Code: fmt.Sprintf("%06d", i), Sector: "tech"}
	}
	return stocks
}

func defaultWeights() domain.FactorWeights {
	return domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
}

func TestScreener_EmptyUniverseReturnsEmptyResult(t *testing.T) {
	s := New(&fakeSource{}, scoring.NewRegistry(), Config{Weights: defaultWeights()}, zerolog.Nop())
	result := s.Run(context.Background(), nil)
	assert.Empty(t, result.Watchlist)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.False(t, result.Aborted)
}

func TestScreener_AllSucceedAndCapsAtMaxWatchlist(t *testing.T) {
	s := New(&fakeSource{}, scoring.NewRegistry(), Config{Weights: defaultWeights(), ScoreThreshold: -1000, MaxWatchlist: 5}, zerolog.Nop())
	result := s.Run(context.Background(), universe(20))
	assert.Len(t, result.Watchlist, 5)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.False(t, result.Aborted)
}

func TestScreener_AbortsBelowSuccessRateFloor(t *testing.T) {
	fail := map[string]bool{}
	for i := 0; i < 5; i++ {
		fail[fmt.Sprintf("%06d", i)] = true
	}
	src := &fakeSource{failFor: fail}
	s := New(src, scoring.NewRegistry(), Config{Weights: defaultWeights(), MinSuccessRate: 0.9}, zerolog.Nop())
	result := s.Run(context.Background(), universe(10)) // 50% success rate
	assert.True(t, result.Aborted)
	assert.Empty(t, result.Watchlist)
}

func TestScreener_PartialFailuresDoNotAbortAboveFloor(t *testing.T) {
	fail := map[string]bool{"000000": true}
	src := &fakeSource{failFor: fail}
	s := New(src, scoring.NewRegistry(), Config{Weights: defaultWeights(), ScoreThreshold: -1000, MinSuccessRate: 0.9}, zerolog.Nop())
	result := s.Run(context.Background(), universe(100))
	assert.False(t, result.Aborted)
	assert.Equal(t, 99, result.Succeeded)
}

func TestScreener_ThresholdFiltersLowScorers(t *testing.T) {
	src := &fakeSource{}
	s := New(src, scoring.NewRegistry(), Config{Weights: defaultWeights(), ScoreThreshold: 1000}, zerolog.Nop())
	result := s.Run(context.Background(), universe(10))
	assert.Empty(t, result.Watchlist)
	assert.False(t, result.Aborted)
}
