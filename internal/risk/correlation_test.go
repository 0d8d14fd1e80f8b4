package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func syntheticSeries(n int, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(float64(i)*0.3 + phase)
	}
	return out
}

func TestCorrelationGate_AllowsUncorrelatedCandidate(t *testing.T) {
	g := NewCorrelationGate()
	candidate := syntheticSeries(80, 0)
	position := syntheticSeries(80, math.Pi/2)

	ok, reason := g.Allow(candidate, [][]float64{position})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCorrelationGate_RejectsWhenTwoPositionsHighlyCorrelated(t *testing.T) {
	g := NewCorrelationGate()
	candidate := syntheticSeries(80, 0)
	sameShape := syntheticSeries(80, 0.01)

	ok, reason := g.Allow(candidate, [][]float64{sameShape, sameShape})
	assert.False(t, ok)
	assert.Equal(t, "correlation cap", reason)
}

func TestCorrelationGate_SkipsWhenHistoryTooShort(t *testing.T) {
	g := NewCorrelationGate()
	ok, _ := g.Allow([]float64{0.01, 0.02}, [][]float64{{0.01, 0.02}})
	assert.True(t, ok)
}
