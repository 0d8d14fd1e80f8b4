// Package phase2 implements the batch distributor and scoring pipeline:
// the daily step that turns the Phase-1 watchlist into a ranked,
// weight-assigned DailySelection.
package phase2

import (
	"sort"

	"github.com/aristath/kquant-trader/internal/domain"
)

// PriorityInput is the per-stock data the composite-priority calculation
// needs before any batch has scored the candidate.
type PriorityInput struct {
	Stock          domain.Stock
	Technical      float64
	VolumeTrend    float64
	Volatility     float64 // annualized, fed into the volatility-fit function
}

// Prioritized pairs a stock with its computed batch-ordering priority.
type Prioritized struct {
	Stock    domain.Stock
	Priority float64
}

// SortByPriorityDescending orders by priority descending, ties broken by
// stock code, matching the deterministic-write-order guarantee.
func SortByPriorityDescending(items []Prioritized) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].Stock.Code < items[j].Stock.Code
	})
}

// Distribute splits a priority-sorted watchlist into numBatches round-robin
// buckets so each batch carries similar aggregate priority. items must
// already be sorted by SortByPriorityDescending.
func Distribute(items []Prioritized, numBatches int) [][]domain.Stock {
	if numBatches <= 0 {
		numBatches = 1
	}
	batches := make([][]domain.Stock, numBatches)
	for i, item := range items {
		b := i % numBatches
		batches[b] = append(batches[b], item.Stock)
	}
	return batches
}
