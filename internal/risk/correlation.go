package risk

import (
	"gonum.org/v1/gonum/stat"
)

// correlationWindow is the trailing return window used for the gate.
const correlationWindow = 60

// highCorrelationThreshold mirrors the teacher's portfolio-level constant,
// applied here pairwise against open positions instead of across a whole
// covariance matrix pulled from a risk-model microservice.
const highCorrelationThreshold = 0.7

// maxCorrelatedPositions is how many existing positions may be highly
// correlated with a candidate before it is rejected.
const maxCorrelatedPositions = 2

// CorrelationGate rejects new positions that would concentrate exposure
// in an already-correlated cluster. Returns computed in-process from
// daily closes; no external risk-model service is consulted.
type CorrelationGate struct{}

// NewCorrelationGate constructs a CorrelationGate.
func NewCorrelationGate() *CorrelationGate {
	return &CorrelationGate{}
}

// Allow reports whether a candidate may be opened, given its trailing
// daily returns and the trailing daily returns of each open position.
// Series shorter than correlationWindow are used as-is (best effort) but
// the gate is skipped entirely if fewer than 10 points are available.
func (g *CorrelationGate) Allow(candidateReturns []float64, positionReturns [][]float64) (bool, string) {
	candidateReturns = tail(candidateReturns, correlationWindow)
	if len(candidateReturns) < 10 {
		return true, ""
	}

	highCount := 0
	for _, pr := range positionReturns {
		pr = tail(pr, correlationWindow)
		n := minInt(len(candidateReturns), len(pr))
		if n < 10 {
			continue
		}
		rho := stat.Correlation(candidateReturns[len(candidateReturns)-n:], pr[len(pr)-n:], nil)
		if abs(rho) > highCorrelationThreshold {
			highCount++
		}
	}

	if highCount >= maxCorrelatedPositions {
		return false, "correlation cap"
	}
	return true, ""
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
