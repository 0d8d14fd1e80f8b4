package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/domain"
)

func rising(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * (1 + 0.01*float64(i))
	}
	return out
}

func TestRegistry_DefaultFactorsCoverAllSeven(t *testing.T) {
	r := NewRegistry()
	s := Snapshot{Closes: rising(60, 1000), Volumes: rising(60, 1000), SectorAvgVolume: 1000}
	fs, err := ComputeFactors(r, s)
	require.NoError(t, err)
	assert.NotZero(t, fs.Momentum)
	assert.NotZero(t, fs.Technical)
}

func TestRegistry_UnknownFactorErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Factor("nonexistent", Snapshot{})
	assert.Error(t, err)
}

func TestRegistry_OverrideFactorTakesEffect(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactor("momentum", func(s Snapshot) float64 { return 0.42 }, "v2")
	v, err := r.Factor("momentum", Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 0.42, v)
	assert.Equal(t, "v2", r.FactorVersions()["momentum"])
}

func TestNormalizeZScore_ZeroVarianceColumnStaysZero(t *testing.T) {
	candidates := []Candidate{
		{Factors: domain.FactorScores{Momentum: 1}},
		{Factors: domain.FactorScores{Momentum: 1}},
	}
	NormalizeZScore(candidates)
	assert.Equal(t, 0.0, candidates[0].Factors.Momentum)
	assert.Equal(t, 0.0, candidates[1].Factors.Momentum)
}

func TestNormalizeZScore_CentersAroundZero(t *testing.T) {
	candidates := []Candidate{
		{Factors: domain.FactorScores{Value: 1}},
		{Factors: domain.FactorScores{Value: 3}},
		{Factors: domain.FactorScores{Value: 5}},
	}
	NormalizeZScore(candidates)
	assert.InDelta(t, 0, candidates[1].Factors.Value, 1e-9)
	assert.Less(t, candidates[0].Factors.Value, 0.0)
	assert.Greater(t, candidates[2].Factors.Value, 0.0)
}

func TestCompositeScore_AverageCandidateLandsAt50(t *testing.T) {
	weights := domain.FactorWeights{Momentum: 1}
	score := CompositeScore(domain.FactorScores{Momentum: 0}, weights)
	assert.Equal(t, 50.0, score)
}

func TestWeightLayer_RejectsChecksumMismatch(t *testing.T) {
	defaults := domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
	wl := NewWeightLayer(defaults, zerolog.Nop())

	bad := WeightUpdate{Weights: defaults, Checksum: "not-a-real-checksum"}
	err := wl.Apply(bad, defaults)
	require.Error(t, err)
	assert.Equal(t, defaults, wl.Current())
}

func TestWeightLayer_AcceptsValidSmallStep(t *testing.T) {
	defaults := domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
	wl := NewWeightLayer(defaults, zerolog.Nop())

	next := defaults
	next.Momentum = 0.22
	next.Value = 0.13
	update := WeightUpdate{Weights: next, Checksum: WeightChecksum(next)}
	require.NoError(t, wl.Apply(update, defaults))
	assert.Equal(t, next, wl.Current())
}

func TestWeightLayer_RejectsOversizedStep(t *testing.T) {
	defaults := domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
	wl := NewWeightLayer(defaults, zerolog.Nop())

	next := defaults
	next.Momentum = 0.30 // +0.10 exceeds the 0.05 max step
	next.Value = 0.05
	update := WeightUpdate{Weights: next, Checksum: WeightChecksum(next)}
	err := wl.Apply(update, defaults)
	require.Error(t, err)
	assert.Equal(t, defaults, wl.Current())
}

func TestWeightLayer_RejectsOutOfRangeComponent(t *testing.T) {
	defaults := domain.FactorWeights{Momentum: 0.2, Value: 0.15, Quality: 0.15, Volume: 0.1, Volatility: 0.1, Technical: 0.2, MarketStrength: 0.1}
	wl := NewWeightLayer(defaults, zerolog.Nop())

	next := defaults
	next.Momentum = 0.45 // above 0.40 max
	next.Value = 0.0 + 0.10
	update := WeightUpdate{Weights: next, Checksum: WeightChecksum(next)}
	err := wl.Apply(update, defaults)
	require.Error(t, err)
}

func TestDetectRegime_HighVolatilityTakesPrecedence(t *testing.T) {
	wild := make([]float64, 60)
	price := 1000.0
	for i := range wild {
		if i%2 == 0 {
			price *= 1.08
		} else {
			price *= 0.90
		}
		wild[i] = price
	}
	regime := DetectRegime(wild, RegimeThresholds{BullReturn: 0.1, BearReturn: -0.1, HighVolLevel: 0.3})
	assert.Equal(t, RegimeHighVol, regime)
}

func TestDetectRegime_BullOnSustainedRise(t *testing.T) {
	steady := rising(252, 1000)
	regime := DetectRegime(steady, RegimeThresholds{BullReturn: 0.1, BearReturn: -0.1, HighVolLevel: 5.0})
	assert.Equal(t, RegimeBull, regime)
}

func TestTargetCount_MapsRegimeToConfiguredSize(t *testing.T) {
	assert.Equal(t, 12, TargetCount(RegimeBull, 12, 8, 5))
	assert.Equal(t, 8, TargetCount(RegimeSideways, 12, 8, 5))
	assert.Equal(t, 5, TargetCount(RegimeBear, 12, 8, 5))
}

func TestDefaultVolatilityFit_PeaksAtMidpoint(t *testing.T) {
	r := NewRegistry()
	mid := r.VolatilityFit(0.05, 0.01, 0.09, 1.0)
	edge := r.VolatilityFit(0.01, 0.01, 0.09, 1.0)
	outside := r.VolatilityFit(0.5, 0.01, 0.09, 1.0)
	assert.Greater(t, mid, edge)
	assert.Equal(t, 0.0, outside)
}
