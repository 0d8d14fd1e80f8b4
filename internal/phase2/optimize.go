package phase2

import (
	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/portfolio"
	"github.com/aristath/kquant-trader/pkg/formulas"
)

const (
	minPortfolioWeight = 0.02
	maxPortfolioWeight = 0.40
)

// OptimizeWeights runs the risk-parity optimizer (HRP) over the selected
// set's covariance matrix and falls back to equal weighting, logging the
// fact, if optimization fails or produces an out-of-bounds result.
// correlation above corrThreshold between any pair triggers a re-weighting
// pass that redistributes the correlated pair's combined weight evenly
// across the rest of the set.
func OptimizeWeights(codes []string, closesByCode map[string][]float64, corrThreshold float64, log zerolog.Logger) map[string]float64 {
	if len(codes) == 0 {
		return map[string]float64{}
	}
	if len(codes) == 1 {
		return map[string]float64{codes[0]: maxPortfolioWeight}
	}

	cov, ok := covarianceMatrix(codes, closesByCode)
	weights := equalWeights(codes)
	if ok {
		hrp := portfolio.NewHRPOptimizer()
		if w, err := hrp.Optimize(cov, codes); err == nil && weightsInBounds(w) {
			weights = w
		} else if err != nil {
			log.Warn().Err(err).Msg("phase2: HRP optimization failed, using equal weights")
		} else {
			log.Warn().Msg("phase2: HRP weights outside configured bounds, using equal weights")
		}
	} else {
		log.Warn().Msg("phase2: insufficient return history for covariance, using equal weights")
	}

	return reweightForCorrelation(codes, closesByCode, weights, corrThreshold, log)
}

func weightsInBounds(w map[string]float64) bool {
	sum := 0.0
	for _, v := range w {
		if v < minPortfolioWeight-1e-9 || v > maxPortfolioWeight+1e-9 {
			return false
		}
		sum += v
	}
	return sum > 0.99 && sum < 1.01
}

func equalWeights(codes []string) map[string]float64 {
	w := make(map[string]float64, len(codes))
	share := 1.0 / float64(len(codes))
	for _, c := range codes {
		w[c] = share
	}
	return w
}

func covarianceMatrix(codes []string, closesByCode map[string][]float64) ([][]float64, bool) {
	returns := make([][]float64, len(codes))
	minLen := -1
	for i, c := range codes {
		r := formulas.CalculateReturns(closesByCode[c])
		returns[i] = r
		if minLen == -1 || len(r) < minLen {
			minLen = len(r)
		}
	}
	if minLen < 2 {
		return nil, false
	}
	for i := range returns {
		returns[i] = returns[i][len(returns[i])-minLen:]
	}

	n := len(codes)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := formulas.Covariance(returns[i], returns[j])
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov, true
}

// reweightForCorrelation flattens the combined weight of any pair whose
// return correlation exceeds corrThreshold across the remaining members,
// then renormalizes to sum 1.
func reweightForCorrelation(codes []string, closesByCode map[string][]float64, weights map[string]float64, corrThreshold float64, log zerolog.Logger) map[string]float64 {
	if corrThreshold <= 0 || len(codes) < 2 {
		return weights
	}
	flagged := make(map[string]bool)
	for i := 0; i < len(codes); i++ {
		for j := i + 1; j < len(codes); j++ {
			a, b := codes[i], codes[j]
			ra, rb := formulas.CalculateReturns(closesByCode[a]), formulas.CalculateReturns(closesByCode[b])
			n := minInt(len(ra), len(rb))
			if n < 20 {
				continue
			}
			corr := formulas.Correlation(ra[len(ra)-n:], rb[len(rb)-n:])
			if corr > corrThreshold || corr < -corrThreshold {
				log.Warn().Str("a", a).Str("b", b).Float64("correlation", corr).
					Msg("phase2: correlated pair triggers re-weighting")
				flagged[a] = true
				flagged[b] = true
			}
		}
	}
	if len(flagged) == 0 {
		return weights
	}

	freed := 0.0
	for code := range flagged {
		freed += weights[code]
		weights[code] = 0
	}
	unflaggedCount := len(codes) - len(flagged)
	if unflaggedCount > 0 {
		share := freed / float64(unflaggedCount)
		for _, c := range codes {
			if !flagged[c] {
				weights[c] += share
			}
		}
	}
	return clampAndRenormalize(weights)
}

// clampAndRenormalize scales weights to sum 1 and clamps every entry into
// [minPortfolioWeight, maxPortfolioWeight], water-filling style: each round
// renormalizes the still-unfixed entries against the mass left over after
// the entries already pinned to a bound, then pins the single worst
// remaining violator to its bound. Because later rounds only ever
// redistribute mass among entries that are NOT yet pinned, a pinned entry
// can never be pushed back out of bounds the way a single
// clamp-then-divide-by-sum pass can.
func clampAndRenormalize(weights map[string]float64) map[string]float64 {
	if len(weights) == 0 {
		return weights
	}
	const eps = 1e-9

	fixed := make(map[string]float64, len(weights))
	remaining := make(map[string]float64, len(weights))
	for k, v := range weights {
		remaining[k] = v
	}

	for iter := 0; iter <= len(weights); iter++ {
		if len(remaining) == 0 {
			break
		}
		fixedSum := 0.0
		for _, v := range fixed {
			fixedSum += v
		}
		leftover := 1.0 - fixedSum

		sum := 0.0
		for _, v := range remaining {
			sum += v
		}
		if sum <= 0 {
			even := leftover / float64(len(remaining))
			for k := range remaining {
				remaining[k] = even
			}
		} else {
			scale := leftover / sum
			for k, v := range remaining {
				remaining[k] = v * scale
			}
		}

		// Pin only the worst single violator this round, not every
		// violator at once: pinning several in the same round before
		// redistributing can starve the round that would otherwise have
		// brought the rest back in bounds (e.g. two entries tied for the
		// cap and two tied for the floor, with nothing left to absorb
		// the remainder once all four are pinned simultaneously).
		worstKey := ""
		worstBound := 0.0
		worstDist := -1.0
		for k, v := range remaining {
			switch {
			case v > maxPortfolioWeight+eps:
				if d := v - maxPortfolioWeight; d > worstDist {
					worstKey, worstBound, worstDist = k, maxPortfolioWeight, d
				}
			case v < minPortfolioWeight-eps:
				if d := minPortfolioWeight - v; d > worstDist {
					worstKey, worstBound, worstDist = k, minPortfolioWeight, d
				}
			}
		}
		if worstDist < 0 {
			break
		}
		fixed[worstKey] = worstBound
		delete(remaining, worstKey)
	}

	result := make(map[string]float64, len(weights))
	for k, v := range fixed {
		result[k] = v
	}
	for k, v := range remaining {
		result[k] = v
	}
	return result
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
