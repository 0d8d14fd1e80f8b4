package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// SectorConstraint bounds the combined weight of every stock in a sector.
type SectorConstraint struct {
	SectorMapper map[string]string  // stock code -> sector
	SectorLower  map[string]float64 // sector -> minimum combined weight
	SectorUpper  map[string]float64 // sector -> maximum combined weight
}

// Strategy selects the mean-variance objective.
type Strategy string

const (
	StrategyEfficientReturn Strategy = "efficient_return"
	StrategyMinVolatility   Strategy = "min_volatility"
	StrategyMaxSharpe       Strategy = "max_sharpe"
	StrategyEfficientRisk   Strategy = "efficient_risk"
)

// MVOptimizer allocates weights by mean-variance optimization under a
// penalty-method formulation (sum-to-one, bounds, sector caps as squared
// penalties), solved with gonum's BFGS falling back to Nelder-Mead.
type MVOptimizer struct{}

// NewMVOptimizer constructs an MVOptimizer.
func NewMVOptimizer() *MVOptimizer {
	return &MVOptimizer{}
}

// Optimize allocates weights for codes under strategy. targetReturn is
// required for efficient_return; targetVolatility for efficient_risk.
func (mvo *MVOptimizer) Optimize(
	expectedReturns map[string]float64,
	covMatrix [][]float64,
	codes []string,
	bounds [][2]float64,
	sectorConstraints []SectorConstraint,
	strategy Strategy,
	targetReturn *float64,
	targetVolatility *float64,
) (map[string]float64, *float64, error) {
	n := len(codes)
	if n == 0 {
		return nil, nil, fmt.Errorf("portfolio: no codes provided")
	}
	if len(covMatrix) != n {
		return nil, nil, fmt.Errorf("portfolio: covariance size %d doesn't match %d codes", len(covMatrix), n)
	}
	for i := range covMatrix {
		if len(covMatrix[i]) != n {
			return nil, nil, fmt.Errorf("portfolio: covariance row %d has size %d, want %d", i, len(covMatrix[i]), n)
		}
	}

	mu := make([]float64, n)
	for i, code := range codes {
		ret, ok := expectedReturns[code]
		if !ok {
			return nil, nil, fmt.Errorf("portfolio: missing expected return for %s", code)
		}
		mu[i] = ret
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, covMatrix[i][j])
		}
	}

	switch strategy {
	case StrategyEfficientReturn:
		if targetReturn == nil {
			return nil, nil, fmt.Errorf("portfolio: target_return required for efficient_return")
		}
		return mvo.solve(mu, sigma, codes, bounds, sectorConstraints, efficientReturnObjective(mu, sigma, *targetReturn))
	case StrategyMinVolatility:
		return mvo.solve(mu, sigma, codes, bounds, sectorConstraints, minVolatilityObjective(sigma))
	case StrategyMaxSharpe:
		return mvo.solve(mu, sigma, codes, bounds, sectorConstraints, maxSharpeObjective(mu, sigma))
	case StrategyEfficientRisk:
		if targetVolatility == nil {
			return nil, nil, fmt.Errorf("portfolio: target_volatility required for efficient_risk")
		}
		return mvo.solve(mu, sigma, codes, bounds, sectorConstraints, efficientRiskObjective(mu, sigma, *targetVolatility))
	default:
		return nil, nil, fmt.Errorf("portfolio: unknown strategy %q", strategy)
	}
}

// objective computes the penalized loss and its gradient for a weight
// vector that solve has already projected to bounds but not normalized.
type objective func(xProj []float64) (loss float64, gradOf func(grad []float64))

const penaltyWeight = 1000.0

func sumToOnePenalty(x []float64) (float64, float64) {
	sum := 0.0
	for _, xi := range x {
		sum += xi
	}
	return penaltyWeight * (sum - 1.0) * (sum - 1.0), sum
}

func efficientReturnObjective(mu []float64, sigma *mat.Dense, target float64) objective {
	n := len(mu)
	const lambda = 1.0
	return func(x []float64) (float64, func([]float64)) {
		ret, variance := portfolioReturnVariance(x, mu, sigma)
		penalty, sum := sumToOnePenalty(x)
		loss := -(ret - lambda*variance)
		loss += penalty
		loss += penaltyWeight * (ret - target) * (ret - target)

		return loss, func(grad []float64) {
			for i := 0; i < n; i++ {
				grad[i] = -mu[i]
				for j := 0; j < n; j++ {
					grad[i] += 2 * lambda * sigma.At(i, j) * x[j]
				}
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
				grad[i] += 2 * penaltyWeight * (ret - target) * mu[i]
			}
		}
	}
}

func minVolatilityObjective(sigma *mat.Dense) objective {
	rows, _ := sigma.Dims()
	return func(x []float64) (float64, func([]float64)) {
		_, variance := portfolioReturnVariance(x, make([]float64, rows), sigma)
		penalty, sum := sumToOnePenalty(x)
		loss := variance + penalty
		return loss, func(grad []float64) {
			for i := 0; i < rows; i++ {
				grad[i] = 0
				for j := 0; j < rows; j++ {
					grad[i] += 2 * sigma.At(i, j) * x[j]
				}
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		}
	}
}

func maxSharpeObjective(mu []float64, sigma *mat.Dense) objective {
	n := len(mu)
	return func(x []float64) (float64, func([]float64)) {
		ret, variance := portfolioReturnVariance(x, mu, sigma)
		stdDev := math.Sqrt(math.Max(variance, 1e-10))
		penalty, sum := sumToOnePenalty(x)
		loss := -ret/stdDev + penalty

		return loss, func(grad []float64) {
			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * x[j]
				}
				grad[i] = -mu[i]/stdDev + ret*dVariance/(2*stdDev*stdDev*stdDev)
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		}
	}
}

func efficientRiskObjective(mu []float64, sigma *mat.Dense, targetVol float64) objective {
	n := len(mu)
	targetVar := targetVol * targetVol
	return func(x []float64) (float64, func([]float64)) {
		ret, variance := portfolioReturnVariance(x, mu, sigma)
		penalty, sum := sumToOnePenalty(x)
		loss := -ret + penalty + penaltyWeight*(variance-targetVar)*(variance-targetVar)

		return loss, func(grad []float64) {
			for i := 0; i < n; i++ {
				grad[i] = -mu[i]
				for j := 0; j < n; j++ {
					grad[i] += 2 * penaltyWeight * (variance - targetVar) * 2 * sigma.At(i, j) * x[j]
				}
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		}
	}
}

func portfolioReturnVariance(x, mu []float64, sigma *mat.Dense) (ret, variance float64) {
	n := len(x)
	for i := 0; i < n; i++ {
		ret += mu[i] * x[i]
		for j := 0; j < n; j++ {
			variance += x[i] * x[j] * sigma.At(i, j)
		}
	}
	return ret, variance
}

func projectToBounds(x []float64, bounds [][2]float64) []float64 {
	if len(bounds) == 0 {
		return x
	}
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(bounds[i][0], math.Min(bounds[i][1], x[i]))
	}
	return proj
}

func sectorPenalty(x []float64, codes []string, constraints []SectorConstraint) (float64, func(grad []float64)) {
	if len(constraints) == 0 {
		return 0, func([]float64) {}
	}
	var penalty float64
	for _, c := range constraints {
		sectorWeights := make(map[string]float64)
		for i, code := range codes {
			if sector := c.SectorMapper[code]; sector != "" {
				sectorWeights[sector] += x[i]
			}
		}
		for sector, lower := range c.SectorLower {
			if w := sectorWeights[sector]; w < lower {
				penalty += penaltyWeight * (lower - w) * (lower - w)
			}
		}
		for sector, upper := range c.SectorUpper {
			if w := sectorWeights[sector]; w > upper {
				penalty += penaltyWeight * (w - upper) * (w - upper)
			}
		}
	}
	return penalty, func(grad []float64) {
		for _, c := range constraints {
			sectorWeights := make(map[string]float64)
			for i, code := range codes {
				if sector := c.SectorMapper[code]; sector != "" {
					sectorWeights[sector] += x[i]
				}
			}
			for sector, lower := range c.SectorLower {
				if w := sectorWeights[sector]; w < lower {
					adj := 2 * penaltyWeight * (lower - w)
					for i, code := range codes {
						if c.SectorMapper[code] == sector {
							grad[i] -= adj
						}
					}
				}
			}
			for sector, upper := range c.SectorUpper {
				if w := sectorWeights[sector]; w > upper {
					adj := 2 * penaltyWeight * (w - upper)
					for i, code := range codes {
						if c.SectorMapper[code] == sector {
							grad[i] += adj
						}
					}
				}
			}
		}
	}
}

var acceptableStatus = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

func (mvo *MVOptimizer) solve(
	mu []float64,
	sigma *mat.Dense,
	codes []string,
	bounds [][2]float64,
	sectorConstraints []SectorConstraint,
	obj objective,
) (map[string]float64, *float64, error) {
	n := len(codes)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x, bounds)
			loss, _ := obj(xProj)
			sp, _ := sectorPenalty(xProj, codes, sectorConstraints)
			return loss + sp
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x, bounds)
			_, gradOf := obj(xProj)
			gradOf(grad)
			_, sectorGradOf := sectorPenalty(xProj, codes, sectorConstraints)
			sectorGradOf(grad)
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !acceptableStatus[result.Status] {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, nil, fmt.Errorf("portfolio: optimization failed: %w", err)
		}
		if !acceptableStatus[result.Status] {
			return nil, nil, fmt.Errorf("portfolio: optimization did not converge: status=%v", result.Status)
		}
	}

	xFinal := projectToBounds(result.X, bounds)
	sum := 0.0
	for _, xi := range xFinal {
		sum += xi
	}

	weights := make(map[string]float64, n)
	var portfolioReturn float64
	for i, code := range codes {
		w := math.Max(0.0, xFinal[i]/math.Max(sum, 1e-10))
		weights[code] = w
		portfolioReturn += mu[i] * w
	}

	sum = 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for code := range weights {
			weights[code] /= sum
		}
		portfolioReturn /= sum
	}

	return weights, &portfolioReturn, nil
}
