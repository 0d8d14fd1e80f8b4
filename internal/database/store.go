package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/kquant-trader/internal/domain"
)

// Store is the single-database persistence layer: stocks, watchlist_stocks,
// daily_selections, trades, error_logs, plus the positions cache. It
// implements trading.Recorder without importing internal/trading, the same
// narrow-interface decoupling used throughout this tree.
type Store struct {
	db *DB
}

// NewStore constructs a Store over an already-migrated DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

const timeLayout = time.RFC3339

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertStock inserts or updates a stock's reference row.
func (s *Store) UpsertStock(stock domain.Stock) error {
	_, err := s.db.Exec(`
		INSERT INTO stocks (code, name, sector, market) VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, sector = excluded.sector, market = excluded.market
	`, stock.Code, stock.Name, stock.Sector, string(stock.Market))
	if err != nil {
		return fmt.Errorf("database: upsert stock %s: %w", stock.Code, err)
	}
	return nil
}

// ListStocks returns every stock known to the reference table, the
// universe the Phase-1 screener scans.
func (s *Store) ListStocks() ([]domain.Stock, error) {
	rows, err := s.db.Query(`SELECT code, name, sector, market FROM stocks ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("database: list stocks: %w", err)
	}
	defer rows.Close()

	var stocks []domain.Stock
	for rows.Next() {
		var st domain.Stock
		var market string
		if err := rows.Scan(&st.Code, &st.Name, &st.Sector, &market); err != nil {
			return nil, fmt.Errorf("database: scan stock: %w", err)
		}
		st.Market = domain.Market(market)
		stocks = append(stocks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate stocks: %w", err)
	}
	return stocks, nil
}

// UpsertWatchlistEntry inserts or replaces the single active watchlist row
// for a stock code, per the one-active-entry-per-code invariant.
func (s *Store) UpsertWatchlistEntry(entry domain.WatchlistEntry) error {
	if err := s.UpsertStock(entry.Stock); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO watchlist_stocks (code, fundamental_score, technical_score, momentum_score, total_score, added_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			fundamental_score = excluded.fundamental_score,
			technical_score   = excluded.technical_score,
			momentum_score    = excluded.momentum_score,
			total_score       = excluded.total_score,
			added_at          = excluded.added_at,
			active            = excluded.active
	`, entry.Stock.Code, entry.FundamentalScore, entry.TechnicalScore, entry.MomentumScore, entry.TotalScore,
		entry.AddedAt.Format(timeLayout), boolToInt(entry.Active))
	if err != nil {
		return fmt.Errorf("database: upsert watchlist entry %s: %w", entry.Stock.Code, err)
	}
	return nil
}

// DeactivateWatchlistEntry marks a watchlist row inactive rather than
// deleting it, preserving score history for later analysis.
func (s *Store) DeactivateWatchlistEntry(code string) error {
	_, err := s.db.Exec(`UPDATE watchlist_stocks SET active = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("database: deactivate watchlist entry %s: %w", code, err)
	}
	return nil
}

const watchlistJoinColumns = `w.code, s.name, s.sector, s.market, w.fundamental_score, w.technical_score, w.momentum_score, w.total_score, w.added_at, w.active`

// GetActiveWatchlist returns every watchlist row currently marked active.
func (s *Store) GetActiveWatchlist() ([]domain.WatchlistEntry, error) {
	rows, err := s.db.Query(`
		SELECT ` + watchlistJoinColumns + `
		FROM watchlist_stocks w JOIN stocks s ON w.code = s.code
		WHERE w.active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("database: query active watchlist: %w", err)
	}
	defer rows.Close()

	var entries []domain.WatchlistEntry
	for rows.Next() {
		entry, err := scanWatchlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan watchlist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanWatchlistEntry(rows *sql.Rows) (domain.WatchlistEntry, error) {
	var entry domain.WatchlistEntry
	var market string
	var addedAt string
	var active int
	err := rows.Scan(&entry.Stock.Code, &entry.Stock.Name, &entry.Stock.Sector, &market,
		&entry.FundamentalScore, &entry.TechnicalScore, &entry.MomentumScore, &entry.TotalScore,
		&addedAt, &active)
	if err != nil {
		return entry, err
	}
	entry.Stock.Market = domain.Market(market)
	entry.Active = active != 0
	entry.AddedAt, _ = time.Parse(timeLayout, addedAt)
	return entry, nil
}

// RecordDailySelection inserts or replaces a Phase-2 selection for its
// (code, date) key.
func (s *Store) RecordDailySelection(sel domain.DailySelection) error {
	if err := s.UpsertStock(sel.Stock); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO daily_selections
			(code, date, entry_price_at_selection, attractiveness, risk_score, signal_count, stop_loss, take_profit, target_position_fraction, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code, date) DO UPDATE SET
			entry_price_at_selection = excluded.entry_price_at_selection,
			attractiveness           = excluded.attractiveness,
			risk_score               = excluded.risk_score,
			signal_count             = excluded.signal_count,
			stop_loss                = excluded.stop_loss,
			take_profit              = excluded.take_profit,
			target_position_fraction = excluded.target_position_fraction,
			status                   = excluded.status
	`, sel.Stock.Code, sel.Date, sel.EntryPriceAtSelection, sel.Attractiveness, sel.RiskScore, sel.SignalCount,
		sel.StopLoss, sel.TakeProfit, sel.TargetPositionFrac, string(sel.Status))
	if err != nil {
		return fmt.Errorf("database: record daily selection %s/%s: %w", sel.Stock.Code, sel.Date, err)
	}
	return nil
}

// UpdateSelectionStatus transitions a selection's lifecycle status.
func (s *Store) UpdateSelectionStatus(code, date string, status domain.SelectionStatus) error {
	_, err := s.db.Exec(`UPDATE daily_selections SET status = ? WHERE code = ? AND date = ?`, string(status), code, date)
	if err != nil {
		return fmt.Errorf("database: update selection status %s/%s: %w", code, date, err)
	}
	return nil
}

const selectionJoinColumns = `d.code, s.name, s.sector, s.market, d.date, d.entry_price_at_selection, d.attractiveness, d.risk_score, d.signal_count, d.stop_loss, d.take_profit, d.target_position_fraction, d.status`

// GetDailySelections returns every selection row for date (YYYY-MM-DD).
func (s *Store) GetDailySelections(date string) ([]domain.DailySelection, error) {
	rows, err := s.db.Query(`
		SELECT `+selectionJoinColumns+`
		FROM daily_selections d JOIN stocks s ON d.code = s.code
		WHERE d.date = ?
	`, date)
	if err != nil {
		return nil, fmt.Errorf("database: query daily selections for %s: %w", date, err)
	}
	defer rows.Close()

	var selections []domain.DailySelection
	for rows.Next() {
		sel, err := scanDailySelection(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan daily selection: %w", err)
		}
		selections = append(selections, sel)
	}
	return selections, rows.Err()
}

func scanDailySelection(rows *sql.Rows) (domain.DailySelection, error) {
	var sel domain.DailySelection
	var market, status string
	err := rows.Scan(&sel.Stock.Code, &sel.Stock.Name, &sel.Stock.Sector, &market, &sel.Date,
		&sel.EntryPriceAtSelection, &sel.Attractiveness, &sel.RiskScore, &sel.SignalCount,
		&sel.StopLoss, &sel.TakeProfit, &sel.TargetPositionFrac, &status)
	if err != nil {
		return sel, err
	}
	sel.Stock.Market = domain.Market(market)
	sel.Status = domain.SelectionStatus(status)
	return sel, nil
}

// RecordTrade appends a trade row. Part of trading.Recorder.
func (s *Store) RecordTrade(t domain.TradeRecord) error {
	if err := s.UpsertStock(t.Stock); err != nil {
		return err
	}

	var exitTime sql.NullString
	if t.ExitTime != nil {
		exitTime = sql.NullString{String: t.ExitTime.Format(timeLayout), Valid: true}
	}
	var realizedPnL sql.NullFloat64
	if t.RealizedPnL != nil {
		realizedPnL = sql.NullFloat64{Float64: *t.RealizedPnL, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO trades (code, side, requested_price, filled_price, quantity, fees, slippage_fraction, commission, realized_pnl, entry_time, exit_time, strategy_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Stock.Code, string(t.Side), t.RequestedPrice, t.FilledPrice, t.Quantity, t.Fees, t.SlippageFrac, t.Commission,
		realizedPnL, t.EntryTime.Format(timeLayout), exitTime, t.StrategyTag)
	if err != nil {
		return fmt.Errorf("database: record trade %s: %w", t.Stock.Code, err)
	}
	return nil
}

// UpsertPosition writes the current materialized state of an open position.
// Part of trading.Recorder.
func (s *Store) UpsertPosition(p domain.Position) error {
	if err := s.UpsertStock(p.Stock); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO positions (code, quantity, weighted_entry, current_price, atr_at_entry, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			quantity       = excluded.quantity,
			weighted_entry = excluded.weighted_entry,
			current_price  = excluded.current_price,
			atr_at_entry   = excluded.atr_at_entry,
			stop_loss      = excluded.stop_loss,
			take_profit    = excluded.take_profit,
			opened_at      = excluded.opened_at
	`, p.Stock.Code, p.Quantity, p.WeightedEntry, p.CurrentPrice, p.ATREntry, p.StopLoss, p.TakeProfit, p.OpenedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("database: upsert position %s: %w", p.Stock.Code, err)
	}
	return nil
}

// RemovePosition deletes a closed position from the cache. Part of
// trading.Recorder.
func (s *Store) RemovePosition(code string) error {
	if _, err := s.db.Exec(`DELETE FROM positions WHERE code = ?`, code); err != nil {
		return fmt.Errorf("database: remove position %s: %w", code, err)
	}
	return nil
}

const positionJoinColumns = `p.code, s.name, s.sector, s.market, p.quantity, p.weighted_entry, p.current_price, p.atr_at_entry, p.stop_loss, p.take_profit, p.opened_at`

// GetOpenPositions returns every row in the positions cache.
func (s *Store) GetOpenPositions() ([]domain.Position, error) {
	rows, err := s.db.Query(`SELECT ` + positionJoinColumns + ` FROM positions p JOIN stocks s ON p.code = s.code`)
	if err != nil {
		return nil, fmt.Errorf("database: query open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// GetPosition returns the cached position for code, or nil if none is open.
func (s *Store) GetPosition(code string) (*domain.Position, error) {
	rows, err := s.db.Query(`SELECT `+positionJoinColumns+` FROM positions p JOIN stocks s ON p.code = s.code WHERE p.code = ?`, code)
	if err != nil {
		return nil, fmt.Errorf("database: query position %s: %w", code, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	pos, err := scanPosition(rows)
	if err != nil {
		return nil, fmt.Errorf("database: scan position %s: %w", code, err)
	}
	return &pos, nil
}

func scanPosition(rows *sql.Rows) (domain.Position, error) {
	var pos domain.Position
	var market, openedAt string
	err := rows.Scan(&pos.Stock.Code, &pos.Stock.Name, &pos.Stock.Sector, &market,
		&pos.Quantity, &pos.WeightedEntry, &pos.CurrentPrice, &pos.ATREntry, &pos.StopLoss, &pos.TakeProfit, &openedAt)
	if err != nil {
		return pos, err
	}
	pos.Stock.Market = domain.Market(market)
	pos.OpenedAt, _ = time.Parse(timeLayout, openedAt)
	return pos, nil
}

// LogError appends a row to error_logs. Part of trading.Recorder.
func (s *Store) LogError(e domain.ErrorLogRow) error {
	var resolvedAt sql.NullString
	if e.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: e.ResolvedAt.Format(timeLayout), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO error_logs (timestamp, severity, service, module, message, stack, type_tag, correlation_id, resolved_at, resolution_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.Format(timeLayout), string(e.Severity), e.Service, e.Module, e.Message, e.Stack, e.TypeTag, e.CorrelationID,
		resolvedAt, e.ResolutionNote)
	if err != nil {
		return fmt.Errorf("database: log error row: %w", err)
	}
	return nil
}
