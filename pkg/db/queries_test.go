package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return d
}

func openPosition(id, symbol string) Position {
	return Position{
		ID: id, Symbol: symbol, Qty: 1, EntryPrice: 100,
		Status: PositionOpen, OpenedAt: time.Now().UTC(),
	}
}

func TestCreatePositionEnforcesSingleOpenPerSymbol(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if err := d.CreatePosition(ctx, openPosition("p1", "BTC/USD")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := d.CreatePosition(ctx, openPosition("p2", "BTC/USD"))
	if !errors.Is(err, ErrOpenPositionExists) {
		t.Fatalf("expected ErrOpenPositionExists, got %v", err)
	}

	// Closing the first frees the slot.
	if err := d.ClosePosition(ctx, "p1", time.Now().UTC()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.CreatePosition(ctx, openPosition("p3", "BTC/USD")); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}

	// Different symbols never conflict.
	if err := d.CreatePosition(ctx, openPosition("p4", "ETH/USD")); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
}

func TestClosePositionTwice(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if err := d.CreatePosition(ctx, openPosition("p1", "BTC/USD")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.ClosePosition(ctx, "p1", time.Now().UTC()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.ClosePosition(ctx, "p1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second close should be ErrNotFound, got %v", err)
	}
}

func TestOpenPositionBySymbolNotFound(t *testing.T) {
	d := newTestDB(t)
	if _, err := d.OpenPositionBySymbol(context.Background(), "BTC/USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLastExitTimes(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)

	if err := d.CreatePosition(ctx, openPosition("p1", "BTC/USD")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.ClosePosition(ctx, "p1", first); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.CreatePosition(ctx, openPosition("p2", "BTC/USD")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.ClosePosition(ctx, "p2", second); err != nil {
		t.Fatalf("close: %v", err)
	}

	exits, err := d.LastExitTimes(ctx)
	if err != nil {
		t.Fatalf("LastExitTimes: %v", err)
	}
	if got, ok := exits["BTC/USD"]; !ok || !got.Equal(second) {
		t.Errorf("last exit = %v/%v, expected %v", got, ok, second)
	}
}

func TestUpsertCandlesIgnoresDuplicates(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	original := Candle{Symbol: "BTC/USD", Interval: "1h0m0s", Time: at, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	if err := d.UpsertCandles(ctx, []Candle{original}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Same bucket with different values: stored candles are immutable.
	mutated := original
	mutated.Close = 999
	if err := d.UpsertCandles(ctx, []Candle{mutated}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var storedClose float64
	row := d.DB.QueryRowContext(ctx, `SELECT close FROM candles WHERE symbol = ? AND interval = ? AND time = ?`,
		original.Symbol, original.Interval, at)
	if err := row.Scan(&storedClose); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if storedClose != 1.5 {
		t.Errorf("close = %v, duplicate insert must not overwrite", storedClose)
	}
}

func TestSettingsVersioning(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, err := d.LatestSettings(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store should be ErrNotFound, got %v", err)
	}

	if err := d.AppendSettings(ctx, `{"v":1}`, "seed"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := d.AppendSettings(ctx, `{"v":2}`, "auto-tuner"); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec, err := d.LatestSettings(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Data != `{"v":2}` || rec.Source != "auto-tuner" {
		t.Errorf("latest = %+v, expected the second version", rec)
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, expected 2", rec.Version)
	}
}

func TestNAVEndpoints(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, nav := range []float64{1000, 1100, 1050, 1200} {
		p := NAVPoint{Time: base.AddDate(0, 0, i), NAV: nav, Cash: 500}
		if err := d.AppendNAV(ctx, p); err != nil {
			t.Fatalf("append nav: %v", err)
		}
	}

	first, last, err := d.NAVEndpoints(ctx, base, base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("NAVEndpoints: %v", err)
	}
	if first.NAV != 1000 || last.NAV != 1200 {
		t.Errorf("endpoints = %v..%v, expected 1000..1200", first.NAV, last.NAV)
	}

	// Window excluding the first point.
	first, _, err = d.NAVEndpoints(ctx, base.AddDate(0, 0, 1), base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("NAVEndpoints: %v", err)
	}
	if first.NAV != 1100 {
		t.Errorf("windowed first = %v, expected 1100", first.NAV)
	}

	if _, _, err := d.NAVEndpoints(ctx, base.AddDate(0, 1, 0), base.AddDate(0, 2, 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty window should be ErrNotFound, got %v", err)
	}
}

func TestListTradesAscOrdering(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"t3", "t1", "t2"} {
		offsets := map[string]int{"t1": 0, "t2": 1, "t3": 2}
		tr := Trade{
			ID: id, Symbol: "BTC/USD", Side: "BUY", Qty: 1, Price: float64(100 + i),
			CreatedAt: base.Add(time.Duration(offsets[id]) * time.Hour),
		}
		if err := d.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("create trade: %v", err)
		}
	}

	trades, err := d.ListTradesAsc(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if trades[i].ID != want {
			t.Errorf("trades[%d] = %s, expected %s", i, trades[i].ID, want)
		}
	}
}
