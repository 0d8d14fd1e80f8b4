package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/domain"
)

const (
	minWeightComponent   = 0.05
	maxWeightComponent   = 0.40
	weightSumTolerance   = 1e-6
	maxAbsoluteStepDelta = 0.05
)

// WeightChecksum computes the verification digest a WeightUpdate must
// carry: the hex-encoded SHA-256 of the weight vector's canonical JSON
// encoding.
func WeightChecksum(w domain.FactorWeights) string {
	data, _ := json.Marshal(w) // FactorWeights has only float64 fields, never fails
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WeightUpdate is a proposed replacement weight vector from the (external,
// out-of-core) feedback process, carrying the checksum it was computed
// with so tampering or transcription errors are caught before use.
type WeightUpdate struct {
	Weights  domain.FactorWeights
	Checksum string
}

// WeightLayer owns the currently active FactorWeights and enforces the
// invariants every component ∈ [0.05,0.40], sum = 1, and the max per-update
// step of 0.05 absolute per component. On any violation it falls back to
// the fixed default constants and raises a warning — it never serves an
// invalid vector.
type WeightLayer struct {
	current domain.FactorWeights
	log     zerolog.Logger
}

// NewWeightLayer starts from defaults.
func NewWeightLayer(defaults domain.FactorWeights, log zerolog.Logger) *WeightLayer {
	return &WeightLayer{current: defaults, log: log.With().Str("component", "weight_layer").Logger()}
}

// Current returns the active weight vector.
func (wl *WeightLayer) Current() domain.FactorWeights {
	return wl.current
}

// Apply validates and, if valid, installs update as the new active vector.
// On checksum mismatch or any invariant violation it installs defaults as
// the active vector, logs a high-severity warning, and returns a descriptive error so
// the caller can record an ErrorLogRow with InvariantViolation class.
func (wl *WeightLayer) Apply(update WeightUpdate, defaults domain.FactorWeights) error {
	if WeightChecksum(update.Weights) != update.Checksum {
		wl.log.Warn().Msg("weight update checksum mismatch, falling back to defaults")
		wl.current = defaults
		return fmt.Errorf("scoring: weight update checksum mismatch")
	}

	if err := validateWeights(update.Weights); err != nil {
		wl.log.Warn().Err(err).Msg("weight update failed invariant validation, falling back to defaults")
		wl.current = defaults
		return err
	}

	if err := validateStep(wl.current, update.Weights); err != nil {
		wl.log.Warn().Err(err).Msg("weight update exceeded max per-component step, falling back to defaults")
		wl.current = defaults
		return err
	}

	wl.current = update.Weights
	return nil
}

func validateWeights(w domain.FactorWeights) error {
	components := weightComponents(w)
	sum := 0.0
	for name, v := range components {
		if v < minWeightComponent || v > maxWeightComponent {
			return fmt.Errorf("scoring: weight %q=%.4f out of range [%.2f,%.2f]", name, v, minWeightComponent, maxWeightComponent)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("scoring: weights sum to %.6f, want 1 +/- %.0e", sum, weightSumTolerance)
	}
	return nil
}

func validateStep(prev, next domain.FactorWeights) error {
	p := weightComponents(prev)
	n := weightComponents(next)
	for name, nv := range n {
		if delta := math.Abs(nv - p[name]); delta > maxAbsoluteStepDelta {
			return fmt.Errorf("scoring: weight %q changed by %.4f, exceeds max step %.2f", name, delta, maxAbsoluteStepDelta)
		}
	}
	return nil
}

func weightComponents(w domain.FactorWeights) map[string]float64 {
	return map[string]float64{
		"momentum":        w.Momentum,
		"value":           w.Value,
		"quality":         w.Quality,
		"volume":          w.Volume,
		"volatility":      w.Volatility,
		"technical":       w.Technical,
		"market_strength": w.MarketStrength,
	}
}
