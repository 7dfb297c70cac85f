package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrOpenPositionExists is returned when a second open position would violate
// the one-open-position-per-symbol invariant.
var ErrOpenPositionExists = errors.New("open position already exists for symbol")

// ----------------------------------------
// Positions
// ----------------------------------------

// OpenPositions returns all positions with status 'open'.
func (d *Database) OpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, qty, entry_price, status, flagged, COALESCE(note, ''), opened_at, closed_at
		FROM positions
		WHERE status = 'open'
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// OpenPositionBySymbol returns the open position for a symbol, or ErrNotFound.
func (d *Database) OpenPositionBySymbol(ctx context.Context, symbol string) (Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, qty, entry_price, status, flagged, COALESCE(note, ''), opened_at, closed_at
		FROM positions
		WHERE status = 'open' AND symbol = ?
	`, symbol)

	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

// CreatePosition inserts a new open position. The partial unique index on
// (symbol WHERE status='open') rejects a duplicate open position; that
// violation is surfaced as ErrOpenPositionExists, never reconciled silently.
func (d *Database) CreatePosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, qty, entry_price, status, flagged, note, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Symbol, p.Qty, p.EntryPrice, p.Status, p.Flagged, p.Note, p.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrOpenPositionExists, p.Symbol)
		}
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

// UpdatePosition rewrites quantity and entry price for an open position.
func (d *Database) UpdatePosition(ctx context.Context, id string, qty, entryPrice float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET qty = ?, entry_price = ? WHERE id = ? AND status = 'open'
	`, qty, entryPrice, id)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClosePosition transitions a position to closed.
func (d *Database) ClosePosition(ctx context.Context, id string, closedAt time.Time) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET status = 'closed', qty = 0, closed_at = ? WHERE id = ? AND status = 'open'
	`, closedAt, id)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FlagPosition marks a position for operator review.
func (d *Database) FlagPosition(ctx context.Context, id, note string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET flagged = 1, note = ? WHERE id = ?
	`, note, id)
	if err != nil {
		return fmt.Errorf("flag position: %w", err)
	}
	return nil
}

// LastExitTimes returns the most recent close time per symbol, used for
// cooldown screening.
func (d *Database) LastExitTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, MAX(closed_at) FROM positions
		WHERE status = 'closed' AND closed_at IS NOT NULL
		GROUP BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("query last exits: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var symbol string
		var closedAt time.Time
		if err := rows.Scan(&symbol, &closedAt); err != nil {
			return nil, fmt.Errorf("scan last exit: %w", err)
		}
		out[symbol] = closedAt
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trades
// ----------------------------------------

// CreateTrade appends a confirmed fill fact.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, position_id, symbol, side, qty, price, fee, exchange_order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PositionID, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.ExchangeOrderID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create trade: %w", err)
	}
	return nil
}

// ListTradesAsc returns all trades ordered by time ascending, the input for
// FIFO profit matching.
func (d *Database) ListTradesAsc(ctx context.Context) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(position_id, ''), symbol, side, qty, price, COALESCE(fee, 0),
		       COALESCE(exchange_order_id, ''), created_at
		FROM trades
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.Fee, &t.ExchangeOrderID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Candles and indicator snapshots
// ----------------------------------------

// UpsertCandles stores candles, ignoring duplicate (symbol, interval, time)
// buckets; stored candles are immutable.
func (d *Database) UpsertCandles(ctx context.Context, candles []Candle) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candles tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO candles (symbol, interval, time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Interval, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// CreateIndicatorSnapshot appends one evaluation's indicator record.
func (d *Database) CreateIndicatorSnapshot(ctx context.Context, s IndicatorSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO indicator_snapshots (id, symbol, generated_at, ema_short, ema_long, rsi, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Symbol, s.GeneratedAt, s.EMAShort, s.EMALong, s.RSI, s.Score)
	if err != nil {
		return fmt.Errorf("create indicator snapshot: %w", err)
	}
	return nil
}

// ----------------------------------------
// Settings
// ----------------------------------------

// LatestSettings returns the newest settings version.
func (d *Database) LatestSettings(ctx context.Context) (SettingsRecord, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT version, data, source, created_at
		FROM settings_versions
		ORDER BY version DESC
		LIMIT 1
	`)
	var rec SettingsRecord
	err := row.Scan(&rec.Version, &rec.Data, &rec.Source, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return SettingsRecord{}, ErrNotFound
	}
	if err != nil {
		return SettingsRecord{}, fmt.Errorf("query settings: %w", err)
	}
	return rec, nil
}

// AppendSettings writes a new settings version; versions are never updated in
// place so the tuner has a full audit trail.
func (d *Database) AppendSettings(ctx context.Context, data, source string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO settings_versions (data, source) VALUES (?, ?)
	`, data, source)
	if err != nil {
		return fmt.Errorf("append settings: %w", err)
	}
	return nil
}

// ----------------------------------------
// Reports and NAV history
// ----------------------------------------

// CreateOptimizationReport appends a tuning audit record.
func (d *Database) CreateOptimizationReport(ctx context.Context, r OptimizationReport) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO optimization_reports (id, run_date, metrics, settings, recommendations, applied_changes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RunDate, r.Metrics, r.Settings, r.Recommendations, r.AppliedChanges, r.Status)
	if err != nil {
		return fmt.Errorf("create optimization report: %w", err)
	}
	return nil
}

// CreateReconciliationReport appends a reconciliation audit record.
func (d *Database) CreateReconciliationReport(ctx context.Context, r ReconciliationReport) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (id, run_at, diffs, synced_count, has_diffs)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.RunAt, r.Diffs, r.SyncedCount, r.HasDiffs)
	if err != nil {
		return fmt.Errorf("create reconciliation report: %w", err)
	}
	return nil
}

// AppendNAV records one net-asset-value observation.
func (d *Database) AppendNAV(ctx context.Context, p NAVPoint) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO nav_history (time, nav, cash) VALUES (?, ?, ?)
	`, p.Time, p.NAV, p.Cash)
	if err != nil {
		return fmt.Errorf("append nav: %w", err)
	}
	return nil
}

// NAVEndpoints returns the first and last NAV observations within [from, to].
func (d *Database) NAVEndpoints(ctx context.Context, from, to time.Time) (first, last NAVPoint, err error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT time, nav, cash FROM nav_history
		WHERE time >= ? AND time <= ? ORDER BY time ASC LIMIT 1
	`, from, to)
	if err = row.Scan(&first.Time, &first.NAV, &first.Cash); err != nil {
		if err == sql.ErrNoRows {
			err = ErrNotFound
		}
		return
	}

	row = d.DB.QueryRowContext(ctx, `
		SELECT time, nav, cash FROM nav_history
		WHERE time >= ? AND time <= ? ORDER BY time DESC LIMIT 1
	`, from, to)
	if err = row.Scan(&last.Time, &last.NAV, &last.Cash); err != nil && err == sql.ErrNoRows {
		err = ErrNotFound
	}
	return
}

// ----------------------------------------
// helpers
// ----------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (Position, error) {
	var p Position
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.Status, &p.Flagged, &p.Note, &p.OpenedAt, &closedAt)
	if err != nil {
		return Position{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
