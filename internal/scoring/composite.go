package scoring

import (
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/pkg/formulas"
)

// Candidate pairs a stock snapshot with its raw (pre-normalization) factor
// values, computed once per batch.
type Candidate struct {
	Stock   domain.Stock
	Factors domain.FactorScores
}

// ComputeFactors runs every registered factor over snapshot and returns the
// seven-wide result in domain.FactorScores shape.
func ComputeFactors(r *Registry, s Snapshot) (domain.FactorScores, error) {
	var fs domain.FactorScores
	var err error
	if fs.Momentum, err = r.Factor("momentum", s); err != nil {
		return fs, err
	}
	if fs.Value, err = r.Factor("value", s); err != nil {
		return fs, err
	}
	if fs.Quality, err = r.Factor("quality", s); err != nil {
		return fs, err
	}
	if fs.Volume, err = r.Factor("volume", s); err != nil {
		return fs, err
	}
	if fs.Volatility, err = r.Factor("volatility", s); err != nil {
		return fs, err
	}
	if fs.Technical, err = r.Factor("technical", s); err != nil {
		return fs, err
	}
	if fs.MarketStrength, err = r.Factor("market_strength", s); err != nil {
		return fs, err
	}
	return fs, nil
}

// NormalizeZScore z-scores each of the seven factor columns across
// candidates, in place, per §4.6 ("normalized (z-score across the current
// batch's candidates)"). A column with zero variance is left at 0 for every
// candidate rather than dividing by zero.
func NormalizeZScore(candidates []Candidate) {
	if len(candidates) == 0 {
		return
	}
	columns := [7]func(*domain.FactorScores) *float64{
		func(f *domain.FactorScores) *float64 { return &f.Momentum },
		func(f *domain.FactorScores) *float64 { return &f.Value },
		func(f *domain.FactorScores) *float64 { return &f.Quality },
		func(f *domain.FactorScores) *float64 { return &f.Volume },
		func(f *domain.FactorScores) *float64 { return &f.Volatility },
		func(f *domain.FactorScores) *float64 { return &f.Technical },
		func(f *domain.FactorScores) *float64 { return &f.MarketStrength },
	}

	for _, col := range columns {
		values := make([]float64, len(candidates))
		for i := range candidates {
			values[i] = *col(&candidates[i].Factors)
		}
		mean := formulas.Mean(values)
		std := formulas.StdDev(values)
		for i := range candidates {
			ptr := col(&candidates[i].Factors)
			if std == 0 {
				*ptr = 0
			} else {
				*ptr = (*ptr - mean) / std
			}
		}
	}
}

// CompositeScore maps the z-scored factors under w to the spec's [0,100]
// scale with mean 50 and standard deviation 15: a z-scored composite of 0
// (average candidate) lands at 50, and one standard deviation of spread in
// the underlying composite maps to 15 points.
func CompositeScore(f domain.FactorScores, w domain.FactorWeights) float64 {
	raw := f.Composite(w)
	return 50 + raw*15
}

// CompositePriority is the batch-ordering priority from §4.6:
// 0.5*technical + 0.3*volume_trend + 0.2*volatility_fit.
func CompositePriority(r *Registry, technical, volumeTrend, volatilityValue, volMin, volMax, volScale float64, weights PriorityWeights) float64 {
	volFit := r.VolatilityFit(volatilityValue, volMin, volMax, volScale)
	return weights.Technical*technical + weights.Volume*volumeTrend + weights.Volatility*volFit
}

// PriorityWeights are the three weights composing CompositePriority. The
// spec's own default is Technical=0.5, Volume=0.3, Volatility=0.2, but they
// are config-driven (phase2.priority_calculation.*_w), never hardcoded in
// a code path.
type PriorityWeights struct {
	Technical  float64
	Volume     float64
	Volatility float64
}
