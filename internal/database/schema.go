package database

// schema is the single source of truth for the service's SQLite database.
// Five tables carry the domain model (stocks, watchlist_stocks,
// daily_selections, trades, error_logs); positions is a materialized cache
// of the Position type's derived view (open buy records minus closed-out
// quantity) so the Trading Engine can read/write current exposure without
// re-deriving it from the full trades history on every call.
const schema = `
CREATE TABLE IF NOT EXISTS stocks (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	sector TEXT NOT NULL DEFAULT '',
	market TEXT NOT NULL CHECK (market IN ('KOSPI', 'KOSDAQ'))
);

CREATE TABLE IF NOT EXISTS watchlist_stocks (
	code              TEXT PRIMARY KEY REFERENCES stocks(code),
	fundamental_score REAL NOT NULL DEFAULT 0,
	technical_score   REAL NOT NULL DEFAULT 0,
	momentum_score    REAL NOT NULL DEFAULT 0,
	total_score       REAL NOT NULL DEFAULT 0,
	added_at          TEXT NOT NULL,
	active            INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_watchlist_active ON watchlist_stocks(active);

CREATE TABLE IF NOT EXISTS daily_selections (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	code                      TEXT NOT NULL REFERENCES stocks(code),
	date                      TEXT NOT NULL,
	entry_price_at_selection  REAL NOT NULL DEFAULT 0,
	attractiveness            REAL NOT NULL DEFAULT 0,
	risk_score                REAL NOT NULL DEFAULT 0,
	signal_count              INTEGER NOT NULL DEFAULT 0,
	stop_loss                 REAL NOT NULL DEFAULT 0,
	take_profit               REAL NOT NULL DEFAULT 0,
	target_position_fraction REAL NOT NULL DEFAULT 0,
	status                    TEXT NOT NULL CHECK (status IN ('pending', 'bought', 'sold', 'cancelled')),
	UNIQUE(code, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_selections_date ON daily_selections(date);

CREATE TABLE IF NOT EXISTS trades (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	code               TEXT NOT NULL REFERENCES stocks(code),
	side               TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	requested_price    REAL NOT NULL,
	filled_price       REAL NOT NULL,
	quantity           REAL NOT NULL,
	fees               REAL NOT NULL DEFAULT 0,
	slippage_fraction  REAL NOT NULL DEFAULT 0,
	commission         REAL NOT NULL DEFAULT 0,
	realized_pnl       REAL,
	entry_time         TEXT NOT NULL,
	exit_time          TEXT,
	strategy_tag       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_code ON trades(code);
CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);

CREATE TABLE IF NOT EXISTS positions (
	code          TEXT PRIMARY KEY REFERENCES stocks(code),
	quantity      REAL NOT NULL,
	weighted_entry REAL NOT NULL,
	current_price REAL NOT NULL DEFAULT 0,
	atr_at_entry  REAL NOT NULL DEFAULT 0,
	stop_loss     REAL NOT NULL DEFAULT 0,
	take_profit   REAL NOT NULL DEFAULT 0,
	opened_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS error_logs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TEXT NOT NULL,
	severity        TEXT NOT NULL CHECK (severity IN ('info', 'warning', 'error', 'critical')),
	service         TEXT NOT NULL,
	module          TEXT NOT NULL,
	message         TEXT NOT NULL,
	stack           TEXT NOT NULL DEFAULT '',
	type_tag        TEXT NOT NULL DEFAULT '',
	correlation_id  TEXT NOT NULL DEFAULT '',
	resolved_at     TEXT,
	resolution_note TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_error_logs_timestamp ON error_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_error_logs_severity ON error_logs(severity);
`
