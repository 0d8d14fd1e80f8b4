package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	db, err := New(Config{Path: ":memory:", Profile: ProfileStandard, Name: "test"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func sampleStock() domain.Stock {
	return domain.Stock{Code: "005930", Name: "Samsung Electronics", Sector: "Technology", Market: domain.MarketKOSPI}
}

func TestStore_WatchlistRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	entry := domain.WatchlistEntry{
		Stock:            sampleStock(),
		FundamentalScore: 0.7,
		TechnicalScore:   0.8,
		MomentumScore:    0.6,
		TotalScore:       0.72,
		AddedAt:          time.Now().UTC().Truncate(time.Second),
		Active:           true,
	}
	require.NoError(t, store.UpsertWatchlistEntry(entry))

	active, err := store.GetActiveWatchlist()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, entry.Stock.Code, active[0].Stock.Code)
	assert.InDelta(t, entry.TotalScore, active[0].TotalScore, 1e-9)
	assert.True(t, active[0].Active)

	require.NoError(t, store.DeactivateWatchlistEntry(entry.Stock.Code))
	active, err = store.GetActiveWatchlist()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStore_DailySelectionRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	sel := domain.DailySelection{
		Stock:                 sampleStock(),
		Date:                  "2026-08-01",
		EntryPriceAtSelection: 70000,
		Attractiveness:        0.8,
		RiskScore:             0.3,
		SignalCount:           2,
		TargetPositionFrac:    0.1,
		Status:                domain.SelectionPending,
	}
	require.NoError(t, store.RecordDailySelection(sel))

	rows, err := store.GetDailySelections("2026-08-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.SelectionPending, rows[0].Status)

	require.NoError(t, store.UpdateSelectionStatus(sel.Stock.Code, sel.Date, domain.SelectionBought))
	rows, err = store.GetDailySelections("2026-08-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.SelectionBought, rows[0].Status)
}

func TestStore_RecordTrade(t *testing.T) {
	store := setupTestStore(t)

	pnl := 1500.0
	trade := domain.TradeRecord{
		Stock:          sampleStock(),
		Side:           domain.SideSell,
		RequestedPrice: 71000,
		FilledPrice:    70950,
		Quantity:       5,
		Fees:           10,
		SlippageFrac:   0.0007,
		Commission:     5,
		RealizedPnL:    &pnl,
		EntryTime:      time.Now().UTC().Add(-time.Hour),
		StrategyTag:    "momentum",
	}
	require.NoError(t, store.RecordTrade(trade))
}

func TestStore_PositionLifecycle(t *testing.T) {
	store := setupTestStore(t)

	pos := domain.Position{
		Stock:         sampleStock(),
		Quantity:      10,
		WeightedEntry: 70000,
		CurrentPrice:  71500,
		ATREntry:      800,
		StopLoss:      68000,
		OpenedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.UpsertPosition(pos))

	got, err := store.GetPosition(pos.Stock.Code)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, pos.Quantity, got.Quantity, 1e-9)

	require.NoError(t, store.RemovePosition(pos.Stock.Code))
	got, err = store.GetPosition(pos.Stock.Code)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetPosition_MissingReturnsNil(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.GetPosition("000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_LogError(t *testing.T) {
	store := setupTestStore(t)

	row := domain.NewErrorLogRow(domain.SeverityWarning, "trading", "engine", "slippage above threshold", "", "slippage", "corr-1")
	require.NoError(t, store.LogError(row))
}
