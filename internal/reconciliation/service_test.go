package reconciliation

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"rotation-trader/internal/state"
	"rotation-trader/pkg/db"
	"rotation-trader/pkg/exchanges/common"
)

type stubGateway struct {
	balances map[string]float64
	prices   map[string]float64
}

func (g *stubGateway) Ticker(_ context.Context, symbol string) (common.Ticker, error) {
	p := g.prices[symbol]
	return common.Ticker{Symbol: symbol, Bid: p, Ask: p, Last: p}, nil
}

func (g *stubGateway) Balances(context.Context) (map[string]float64, error) {
	return g.balances, nil
}

func (g *stubGateway) Candles(context.Context, string, time.Duration, int) ([]common.Candle, error) {
	return nil, nil
}

func (g *stubGateway) PlaceLimitOrder(context.Context, common.LimitOrderRequest) (common.OrderAck, error) {
	return common.OrderAck{}, nil
}

func (g *stubGateway) PlaceMarketOrder(context.Context, common.MarketOrderRequest) (common.OrderAck, error) {
	return common.OrderAck{}, nil
}

func (g *stubGateway) CancelOrder(context.Context, string, string) error { return nil }

func (g *stubGateway) OrderStatus(context.Context, string, string) (common.OrderState, error) {
	return common.OrderState{}, nil
}

func (g *stubGateway) LotInfo(context.Context, string) (common.LotInfo, error) {
	return common.LotInfo{LotStep: 1e-8, QtyDecimals: 8}, nil
}

func newTestService(t *testing.T, gw *stubGateway) (*Service, *state.Manager, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := state.NewManager(database)
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("load state: %v", err)
	}
	return NewService(gw, database, st, nil, DefaultConfig()), st, database
}

func reportDiffs(t *testing.T, report db.ReconciliationReport) []Diff {
	t.Helper()
	var diffs []Diff
	if err := json.Unmarshal([]byte(report.Diffs), &diffs); err != nil {
		t.Fatalf("decode report diffs: %v", err)
	}
	return diffs
}

func TestRunAdjustsQuantityDrift(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500, "BTC": 0.7},
		prices:   map[string]float64{"BTC/USD": 50000},
	}
	svc, st, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := st.ApplyBuy(ctx, "BTC/USD", 1.0, 48000); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	report, err := svc.Run(ctx, []string{"BTC/USD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.HasDiffs || report.SyncedCount != 1 {
		t.Errorf("report = %+v, expected one synced diff", report)
	}

	pos, ok := st.Open("BTC/USD")
	if !ok {
		t.Fatal("position should stay open")
	}
	if math.Abs(pos.Qty-0.7) > 1e-9 {
		t.Errorf("ledger qty = %v, expected exchange-reported 0.7", pos.Qty)
	}
	if pos.EntryPrice != 48000 {
		t.Errorf("cost basis changed to %v, must stay 48000", pos.EntryPrice)
	}
}

func TestRunClosesVanishedPosition(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500},
		prices:   map[string]float64{"ETH/USD": 3000},
	}
	svc, st, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := st.ApplyBuy(ctx, "ETH/USD", 2.0, 2800); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	report, err := svc.Run(ctx, []string{"ETH/USD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := st.Open("ETH/USD"); ok {
		t.Error("position with no exchange balance should be closed")
	}
	diffs := reportDiffs(t, report)
	if len(diffs) != 1 || diffs[0].Kind != "missing_balance" {
		t.Errorf("expected one missing_balance diff, got %+v", diffs)
	}
}

func TestRunAdoptsUntrackedBalance(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500, "ADA": 100},
		prices:   map[string]float64{"ADA/USD": 0.5},
	}
	svc, st, _ := newTestService(t, gw)

	report, err := svc.Run(context.Background(), []string{"ADA/USD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	pos, ok := st.Open("ADA/USD")
	if !ok {
		t.Fatal("untracked in-universe balance should be adopted")
	}
	if pos.Qty != 100 || pos.EntryPrice != 0.5 {
		t.Errorf("adopted position = %+v, expected 100 @ 0.5", pos)
	}
	if report.SyncedCount != 1 {
		t.Errorf("SyncedCount = %d, expected 1", report.SyncedCount)
	}
}

func TestRunIgnoresDustBalance(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500, "ADA": 0.5}, // worth $0.25
		prices:   map[string]float64{"ADA/USD": 0.5},
	}
	svc, st, _ := newTestService(t, gw)

	if _, err := svc.Run(context.Background(), []string{"ADA/USD"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := st.Open("ADA/USD"); ok {
		t.Error("dust balance must not open a position")
	}
}

func TestRunFlagsOutOfUniversePosition(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500, "XRP": 50},
		prices:   map[string]float64{"XRP/USD": 2},
	}
	svc, st, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := st.ApplyBuy(ctx, "XRP/USD", 50, 2); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	report, err := svc.Run(ctx, []string{"BTC/USD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	pos, ok := st.Open("XRP/USD")
	if !ok {
		t.Fatal("out-of-universe position must never be force-closed")
	}
	if !pos.Flagged {
		t.Error("position should be flagged for review")
	}
	diffs := reportDiffs(t, report)
	if len(diffs) != 1 || diffs[0].Kind != "out_of_universe" {
		t.Errorf("expected one out_of_universe diff, got %+v", diffs)
	}
}

func TestRunCleanPassHasNoDiffs(t *testing.T) {
	gw := &stubGateway{
		balances: map[string]float64{"USD": 500, "BTC": 1.0},
		prices:   map[string]float64{"BTC/USD": 50000},
	}
	svc, st, _ := newTestService(t, gw)
	ctx := context.Background()

	if _, err := st.ApplyBuy(ctx, "BTC/USD", 1.0, 48000); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	report, err := svc.Run(ctx, []string{"BTC/USD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.HasDiffs {
		t.Errorf("clean pass should report no diffs, got %s", report.Diffs)
	}
}
