package risk

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/pkg/formulas"
)

// DrawdownResponse is the action triggered by crossing a threshold.
type DrawdownResponse string

const (
	ResponseNone          DrawdownResponse = "none"
	ResponseWarn          DrawdownResponse = "warn"
	ResponseReduceNewSize DrawdownResponse = "reduce_new_size"
	ResponseHaltEntries   DrawdownResponse = "halt_entries"
	ResponseCloseHalf     DrawdownResponse = "close_half"
	ResponseCloseAll      DrawdownResponse = "close_all"
)

// thresholds, in ascending severity order. hysteresis is the band a
// drawdown must recover through before a response is allowed to reverse.
const hysteresis = 0.01

type threshold struct {
	level    float64
	response DrawdownResponse
}

// DrawdownThresholds are the ordered trigger points, sourced from config.
type DrawdownThresholds struct {
	Warn      float64
	Reduce    float64
	Halt      float64
	CloseHalf float64
	CloseAll  float64
}

func (t DrawdownThresholds) ordered() []threshold {
	return []threshold{
		{t.Warn, ResponseWarn},
		{t.Reduce, ResponseReduceNewSize},
		{t.Halt, ResponseHaltEntries},
		{t.CloseHalf, ResponseCloseHalf},
		{t.CloseAll, ResponseCloseAll},
	}
}

// Monitor tracks the equity curve and reports the currently-active
// response. A response stays latched until equity recovers back through
// the threshold by at least hysteresis, preventing chatter at the edge.
type Monitor struct {
	mu         sync.Mutex
	thresholds DrawdownThresholds
	equity     []float64
	active     DrawdownResponse
	log        zerolog.Logger
}

// NewMonitor constructs a Monitor with the given thresholds.
func NewMonitor(thresholds DrawdownThresholds, log zerolog.Logger) *Monitor {
	return &Monitor{
		thresholds: thresholds,
		active:     ResponseNone,
		log:        log.With().Str("component", "drawdown_monitor").Logger(),
	}
}

// Observe records a new equity value and returns the response now active.
func (m *Monitor) Observe(equity float64) DrawdownResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.equity = append(m.equity, equity)
	metrics := formulas.CalculateDrawdownMetrics(m.equity)
	if metrics == nil {
		return ResponseNone
	}

	next := ResponseNone
	for _, th := range m.thresholds.ordered() {
		if metrics.CurrentDrawdown >= th.level {
			next = th.response
		}
	}

	if severityRank(next) < severityRank(m.active) {
		recoveredPast := m.active
		needed := responseLevel(m.thresholds, recoveredPast) - hysteresis
		if metrics.CurrentDrawdown > needed {
			next = m.active
		}
	}

	if next != m.active {
		m.log.Warn().
			Str("from", string(m.active)).
			Str("to", string(next)).
			Float64("current_drawdown", metrics.CurrentDrawdown).
			Msg("drawdown response changed")
	}
	m.active = next
	return m.active
}

func severityRank(r DrawdownResponse) int {
	switch r {
	case ResponseCloseAll:
		return 5
	case ResponseCloseHalf:
		return 4
	case ResponseHaltEntries:
		return 3
	case ResponseReduceNewSize:
		return 2
	case ResponseWarn:
		return 1
	default:
		return 0
	}
}

func responseLevel(t DrawdownThresholds, r DrawdownResponse) float64 {
	switch r {
	case ResponseCloseAll:
		return t.CloseAll
	case ResponseCloseHalf:
		return t.CloseHalf
	case ResponseHaltEntries:
		return t.Halt
	case ResponseReduceNewSize:
		return t.Reduce
	case ResponseWarn:
		return t.Warn
	default:
		return 0
	}
}
