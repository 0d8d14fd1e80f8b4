package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TripReason identifies which condition tripped the breaker.
type TripReason string

const (
	TripDailyLoss       TripReason = "daily_loss"
	TripConsecLosses    TripReason = "consecutive_losses"
	TripErrorSpike      TripReason = "error_spike"
	TripMarketVolatility TripReason = "market_volatility"
)

var cooldowns = map[TripReason]time.Duration{
	TripDailyLoss:        24 * time.Hour,
	TripConsecLosses:     48 * time.Hour,
	TripErrorSpike:       time.Hour,
	TripMarketVolatility: 4 * time.Hour,
}

// BreakerConfig bundles the four trip thresholds.
type BreakerConfig struct {
	DailyLossFraction float64
	ConsecLosses      int
	ErrorSpikeCount   int
	MarketMoveFraction float64
}

// CircuitBreaker records a trip and its reason; while it is tripped the
// trading engine refuses new entries. Tripping does not cancel outstanding
// orders. Reset is automatic after a per-trigger cooldown, or manual via
// a signed key supplied out-of-band.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	tripped  bool
	reason   TripReason
	trippedAt time.Time
	log      zerolog.Logger

	errorTimestamps []time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker.
func NewCircuitBreaker(cfg BreakerConfig, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, log: log.With().Str("component", "circuit_breaker").Logger()}
}

// CheckDailyLoss trips the breaker if today's realized loss fraction
// meets or exceeds the configured threshold.
func (b *CircuitBreaker) CheckDailyLoss(lossFraction float64) {
	if lossFraction >= b.cfg.DailyLossFraction {
		b.trip(TripDailyLoss)
	}
}

// CheckConsecutiveLosses trips on a long enough losing streak.
func (b *CircuitBreaker) CheckConsecutiveLosses(streak int) {
	if streak >= b.cfg.ConsecLosses {
		b.trip(TripConsecLosses)
	}
}

// RecordError registers a system error occurrence and trips the breaker
// if the configured count is reached within a rolling one-hour window.
func (b *CircuitBreaker) RecordError(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-time.Hour)
	kept := b.errorTimestamps[:0]
	for _, ts := range b.errorTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	b.errorTimestamps = kept

	if len(b.errorTimestamps) >= b.cfg.ErrorSpikeCount {
		b.tripLocked(TripErrorSpike, now)
	}
}

// CheckMarketMove trips on an intraday move meeting the configured size.
func (b *CircuitBreaker) CheckMarketMove(moveFraction float64) {
	if moveFraction >= b.cfg.MarketMoveFraction {
		b.trip(TripMarketVolatility)
	}
}

func (b *CircuitBreaker) trip(reason TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason, time.Now())
}

func (b *CircuitBreaker) tripLocked(reason TripReason, now time.Time) {
	if b.tripped {
		return
	}
	b.tripped = true
	b.reason = reason
	b.trippedAt = now
	b.log.Error().Str("reason", string(reason)).Msg("circuit breaker tripped")
}

// Tripped reports whether the breaker is currently open, auto-resetting
// it first if its cooldown has elapsed.
func (b *CircuitBreaker) Tripped(now time.Time) (bool, TripReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return false, ""
	}
	if now.Sub(b.trippedAt) >= cooldowns[b.reason] {
		b.log.Info().Str("reason", string(b.reason)).Msg("circuit breaker auto-reset after cooldown")
		b.tripped = false
		return false, ""
	}
	return true, b.reason
}

// ManualReset clears the tripped state immediately. Callers are
// responsible for verifying the out-of-band signed key before calling
// this; the breaker itself holds no key material.
func (b *CircuitBreaker) ManualReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripped = false
	b.log.Warn().Msg("circuit breaker manually reset")
}
