package phase2

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/scoring"
)

func TestDistribute_RoundRobinsAcrossBatches(t *testing.T) {
	items := make([]Prioritized, 7)
	for i := range items {
		items[i] = Prioritized{Stock: domain.Stock{Code: string(rune('a' + i))}, Priority: float64(i)}
	}
	batches := Distribute(items, 3)
	require.Len(t, batches, 3)
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 7, total)
}

func TestPassesSafetyFilter_RejectsHighRisk(t *testing.T) {
	cfg := SafetyFilterConfig{RiskMax: 0.5, VolumeMin: 0.1, ConfidenceMin: 0.3, TechnicalMin: 0.1}
	c := ScoredCandidate{RiskScore: 0.9, VolumeScore: 0.5, ConfidenceHint: 0.5, Factors: domain.FactorScores{Technical: 0.5}}
	assert.False(t, PassesSafetyFilter(c, cfg))
}

func TestPassesSafetyFilter_AcceptsWithinBounds(t *testing.T) {
	cfg := SafetyFilterConfig{RiskMax: 0.7, VolumeMin: 0.3, ConfidenceMin: 0.4, TechnicalMin: 0.3}
	c := ScoredCandidate{RiskScore: 0.2, VolumeScore: 0.5, ConfidenceHint: 0.6, Factors: domain.FactorScores{Technical: 0.5}}
	assert.True(t, PassesSafetyFilter(c, cfg))
}

func TestSelectAdaptive_RespectsSectorCap(t *testing.T) {
	candidates := []ScoredCandidate{
		{Stock: domain.Stock{Code: "1", Sector: "tech"}, Composite: 90},
		{Stock: domain.Stock{Code: "2", Sector: "tech"}, Composite: 85},
		{Stock: domain.Stock{Code: "3", Sector: "tech"}, Composite: 80},
		{Stock: domain.Stock{Code: "4", Sector: "tech"}, Composite: 75},
		{Stock: domain.Stock{Code: "5", Sector: "finance"}, Composite: 70},
	}
	selected := SelectAdaptive(candidates, 4, 2)
	techCount := 0
	for _, c := range selected {
		if c.Stock.Sector == "tech" {
			techCount++
		}
	}
	assert.LessOrEqual(t, techCount, 2)
	assert.Contains(t, selected, candidates[4]) // finance stock should fill the remaining slot
}

func TestSelectAdaptive_StopsAtTargetCount(t *testing.T) {
	candidates := []ScoredCandidate{
		{Stock: domain.Stock{Code: "1", Sector: "a"}, Composite: 90},
		{Stock: domain.Stock{Code: "2", Sector: "b"}, Composite: 85},
		{Stock: domain.Stock{Code: "3", Sector: "c"}, Composite: 80},
	}
	selected := SelectAdaptive(candidates, 2, 3)
	assert.Len(t, selected, 2)
}

func TestArtifactStore_WriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	artifact := domain.BatchArtifact{BatchID: 3, Date: "2026-08-01", CompletedAt: time.Now().UTC()}
	require.NoError(t, store.Write(artifact))

	got, err := store.Read("2026-08-01", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got.BatchID)
}

func TestArtifactStore_ValidRejectsStaleDate(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	require.NoError(t, store.Write(domain.BatchArtifact{BatchID: 1, Date: "2020-01-01", CompletedAt: time.Now().UTC()}))
	assert.False(t, store.Valid("2020-01-01", 1, time.Now()))
}

func TestArtifactStore_ValidAcceptsTodaysArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	today := time.Now().UTC()
	date := today.Format("2006-01-02")
	require.NoError(t, store.Write(domain.BatchArtifact{BatchID: 1, Date: date, CompletedAt: today}))
	assert.True(t, store.Valid(date, 1, today))
}

func TestOptimizeWeights_SingleCodeClampedToMaxPortfolioWeight(t *testing.T) {
	w := OptimizeWeights([]string{"000001"}, map[string][]float64{}, 0.7, zerolog.Nop())
	assert.Equal(t, maxPortfolioWeight, w["000001"])
}

func TestOptimizeWeights_FallsBackToEqualWeightsOnThinHistory(t *testing.T) {
	closes := map[string][]float64{"a": {100, 101}, "b": {200, 202}}
	w := OptimizeWeights([]string{"a", "b"}, closes, 0.7, zerolog.Nop())
	assert.InDelta(t, 0.5, w["a"], 1e-9)
	assert.InDelta(t, 0.5, w["b"], 1e-9)
}

type fakeSource struct{}

func (fakeSource) Snapshot(ctx context.Context, stock domain.Stock) (scoring.Snapshot, error) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 1000 * (1 + 0.002*float64(i))
	}
	return scoring.Snapshot{Code: stock.Code, Closes: closes, Volumes: closes, SectorAvgVolume: 1000, ConfidenceHint: 0.6}, nil
}

func TestPipeline_EmptyWatchlistSkipsAllBatchesWithoutFetching(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	cfg := Config{NumBatches: 4, Weights: defaultWeights(), TargetCounts: TargetCounts{Bullish: 3, Neutral: 2, Bearish: 1}}
	p := New(fakeSource{}, scoring.NewRegistry(), store, cfg, zerolog.Nop())

	result := p.Run(context.Background(), "2026-08-01", nil, scoring.RegimeSideways)
	assert.Empty(t, result.Selections)
	for i := 0; i < 4; i++ {
		assert.Equal(t, BatchSkipped, result.BatchStates[i])
	}
}

func TestPipeline_RunProducesSelectionsForPassingCandidates(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	cfg := Config{
		NumBatches:   2,
		Weights:      defaultWeights(),
		SafetyFilter: SafetyFilterConfig{RiskMax: 1, VolumeMin: -1, ConfidenceMin: -1, TechnicalMin: -1},
		TargetCounts: TargetCounts{Bullish: 3, Neutral: 2, Bearish: 1},
		SectorCap:    3,
		PriorityW:    scoring.PriorityWeights{Technical: 0.5, Volume: 0.3, Volatility: 0.2},
		VolFitMin:    0.01, VolFitMax: 0.09, VolFitScale: 1.0,
	}
	p := New(fakeSource{}, scoring.NewRegistry(), store, cfg, zerolog.Nop())

	watchlist := []domain.WatchlistEntry{
		{Stock: domain.Stock{Code: "000001", Sector: "tech"}, TechnicalScore: 0.5},
		{Stock: domain.Stock{Code: "000002", Sector: "finance"}, TechnicalScore: 0.6},
	}
	result := p.Run(context.Background(), "2026-08-01", watchlist, scoring.RegimeBull)
	assert.NotEmpty(t, result.Selections)
	for _, sel := range result.Selections {
		assert.Equal(t, domain.SelectionPending, sel.Status)
		assert.Equal(t, "2026-08-01", sel.Date)
	}

	entries, err := os.ReadDir(dir + "/phase2/2026-08-01")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestClampAndRenormalize_ReclampsAfterRenormalizing(t *testing.T) {
	// Naive clamp-then-divide-by-sum pushes two entries back over the cap:
	// clamped [0.40, 0.40, 0.02] sums to 0.82, so dividing by 0.82 yields
	// [0.488, 0.488, 0.024]. The fixed-point version must not do that.
	got := clampAndRenormalize(map[string]float64{"a": 0.75, "b": 0.75, "c": 0.02})
	sum := 0.0
	for code, w := range got {
		assert.GreaterOrEqualf(t, w, minPortfolioWeight-1e-9, "code %s below floor", code)
		assert.LessOrEqualf(t, w, maxPortfolioWeight+1e-9, "code %s above cap", code)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, maxPortfolioWeight, got["a"], 1e-9)
	assert.InDelta(t, maxPortfolioWeight, got["b"], 1e-9)
	assert.InDelta(t, 0.2, got["c"], 1e-9)
}

func TestReweightForCorrelation_RedistributedWeightsStayInBounds(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	uncorrelated := make([]float64, 40)
	for i := range uncorrelated {
		if i%2 == 0 {
			uncorrelated[i] = 100 + float64(i%5)
		} else {
			uncorrelated[i] = 100 - float64(i%5)
		}
	}
	closesByCode := map[string][]float64{
		"a": closes,
		"b": closes, // identical series: correlation with a is 1.0
		"c": uncorrelated,
	}
	weights := map[string]float64{"a": 0.4, "b": 0.4, "c": 0.2}

	got := reweightForCorrelation([]string{"a", "b", "c"}, closesByCode, weights, 0.5, zerolog.Nop())

	sum := 0.0
	for code, w := range got {
		assert.GreaterOrEqualf(t, w, minPortfolioWeight-1e-9, "code %s below floor", code)
		assert.LessOrEqualf(t, w, maxPortfolioWeight+1e-9, "code %s above cap", code)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func defaultWeights() domain.FactorWeights {
	return domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
}
