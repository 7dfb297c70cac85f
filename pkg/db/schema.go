package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS candles (
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    time DATETIME NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    PRIMARY KEY (symbol, interval, time)
);

CREATE TABLE IF NOT EXISTS indicator_snapshots (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    generated_at DATETIME NOT NULL,
    ema_short REAL NOT NULL,
    ema_long REAL NOT NULL,
    rsi REAL NOT NULL,
    score REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    flagged INTEGER DEFAULT 0,
    note TEXT DEFAULT '',
    opened_at DATETIME NOT NULL,
    closed_at DATETIME
);

-- The ledger invariant: at most one open position per symbol.
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol
    ON positions(symbol) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    position_id TEXT DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fee REAL DEFAULT 0,
    exchange_order_id TEXT DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);

CREATE TABLE IF NOT EXISTS settings_versions (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    data TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'manual',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS optimization_reports (
    id TEXT PRIMARY KEY,
    run_date DATETIME NOT NULL,
    metrics TEXT NOT NULL,
    settings TEXT NOT NULL,
    recommendations TEXT NOT NULL,
    applied_changes TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reconciliation_reports (
    id TEXT PRIMARY KEY,
    run_at DATETIME NOT NULL,
    diffs TEXT NOT NULL,
    synced_count INTEGER DEFAULT 0,
    has_diffs INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS nav_history (
    time DATETIME PRIMARY KEY,
    nav REAL NOT NULL,
    cash REAL NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
