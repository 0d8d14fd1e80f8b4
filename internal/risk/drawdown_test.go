package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testThresholds() DrawdownThresholds {
	return DrawdownThresholds{Warn: 0.03, Reduce: 0.05, Halt: 0.08, CloseHalf: 0.10, CloseAll: 0.12}
}

func TestMonitor_EscalatesThroughThresholds(t *testing.T) {
	m := NewMonitor(testThresholds(), zerolog.Nop())

	assert.Equal(t, ResponseNone, m.Observe(100))
	assert.Equal(t, ResponseWarn, m.Observe(96))
	assert.Equal(t, ResponseReduceNewSize, m.Observe(94))
	assert.Equal(t, ResponseHaltEntries, m.Observe(91))
	assert.Equal(t, ResponseCloseHalf, m.Observe(89))
	assert.Equal(t, ResponseCloseAll, m.Observe(87))
}

func TestMonitor_HysteresisPreventsImmediateReversal(t *testing.T) {
	m := NewMonitor(testThresholds(), zerolog.Nop())
	m.Observe(100)
	m.Observe(94) // drawdown 0.06, reduce-size territory

	// Recovery to drawdown 0.045 is past the Warn line but still within the
	// hysteresis band below Reduce's 0.05 threshold; the response must stay latched.
	resp := m.Observe(95.5)
	assert.Equal(t, ResponseReduceNewSize, resp)
}
