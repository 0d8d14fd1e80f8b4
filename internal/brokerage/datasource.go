package brokerage

import (
	"context"
	"fmt"

	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/scoring"
)

// MarketDataSource adapts Client to the scoring.Snapshot contract shared by
// the Phase-1 screener and the Phase-2 pipeline. Fundamental fields
// (PE, PB, dividend yield) are left at zero: the broker surface this tree
// wires against exposes price history but no fundamentals endpoint, so
// factor functions that read FundamentalPE/FundamentalPB degrade to their
// documented zero-input behavior rather than panicking on missing data.
type MarketDataSource struct {
	client        *Client
	historyDays   int
	sectorVolumes map[string]float64 // sector -> trailing average volume, refreshed by caller between runs
}

// NewMarketDataSource constructs a MarketDataSource that pulls historyDays
// of daily candles per stock.
func NewMarketDataSource(client *Client, historyDays int) *MarketDataSource {
	if historyDays <= 0 {
		historyDays = 120
	}
	return &MarketDataSource{client: client, historyDays: historyDays, sectorVolumes: make(map[string]float64)}
}

// SetSectorAverageVolumes installs the per-sector trailing average volume
// table used to populate Snapshot.SectorAvgVolume. Computing this requires
// a full universe pass, so callers refresh it once per scan rather than
// per stock.
func (m *MarketDataSource) SetSectorAverageVolumes(bySector map[string]float64) {
	m.sectorVolumes = bySector
}

// Snapshot implements screener.DataSource and phase2.DataSource.
func (m *MarketDataSource) Snapshot(ctx context.Context, stock domain.Stock) (scoring.Snapshot, error) {
	bars, err := m.client.GetDailyOHLCV(ctx, stock.Code, m.historyDays)
	if err != nil {
		return scoring.Snapshot{}, fmt.Errorf("brokerage datasource: snapshot %s: %w", stock.Code, err)
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	return scoring.Snapshot{
		Code:            stock.Code,
		Closes:          closes,
		Volumes:         volumes,
		SectorAvgVolume: m.sectorVolumes[stock.Sector],
	}, nil
}
