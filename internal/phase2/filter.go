package phase2

import "github.com/aristath/kquant-trader/internal/domain"

// SafetyFilterConfig mirrors config.LegacyFilterConfig; duplicated here as
// a narrow value type so this package does not import internal/config and
// stays testable with literal values.
type SafetyFilterConfig struct {
	RiskMax       float64
	VolumeMin     float64
	ConfidenceMin float64
	TechnicalMin  float64
}

// ScoredCandidate is a watchlist stock after multi-factor scoring, still
// carrying the raw signals the safety filter and sector cap need.
type ScoredCandidate struct {
	Stock          domain.Stock
	Factors        domain.FactorScores
	Composite      float64
	RiskScore      float64
	VolumeScore    float64
	ConfidenceHint float64
}

// PassesSafetyFilter reports whether c clears every threshold in cfg. All
// four thresholds are config-driven; none are hardcoded here.
func PassesSafetyFilter(c ScoredCandidate, cfg SafetyFilterConfig) bool {
	return c.RiskScore < cfg.RiskMax &&
		c.VolumeScore > cfg.VolumeMin &&
		c.ConfidenceHint >= cfg.ConfidenceMin &&
		c.Factors.Technical >= cfg.TechnicalMin
}

// ApplySafetyFilter returns the subset of candidates that pass cfg,
// preserving order.
func ApplySafetyFilter(candidates []ScoredCandidate, cfg SafetyFilterConfig) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if PassesSafetyFilter(c, cfg) {
			out = append(out, c)
		}
	}
	return out
}
