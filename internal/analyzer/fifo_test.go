package analyzer

import (
	"math"
	"testing"
	"time"

	"rotation-trader/pkg/db"
)

func trade(symbol, side string, qty, price, fee float64, at time.Time) db.Trade {
	return db.Trade{
		ID: symbol + side + at.String(), Symbol: symbol, Side: side,
		Qty: qty, Price: price, Fee: fee, CreatedAt: at,
	}
}

func TestMatchFIFOSingleRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := []db.Trade{
		trade("BTC/USD", "BUY", 1, 100, 0.1, t0),
		trade("BTC/USD", "SELL", 1, 110, 0.11, t0.Add(24*time.Hour)),
	}

	rts := MatchFIFO(trades)
	if len(rts) != 1 {
		t.Fatalf("expected 1 round-trip, got %d", len(rts))
	}

	// sellQty*sellPrice - sellFee - buyQty*buyPrice - buyFee
	want := 1*110.0 - 0.11 - 1*100.0 - 0.1
	if math.Abs(rts[0].Profit-want) > 1e-9 {
		t.Errorf("profit = %v, expected %v", rts[0].Profit, want)
	}
	if math.Abs(rts[0].Fees-0.21) > 1e-9 {
		t.Errorf("fees = %v, expected 0.21", rts[0].Fees)
	}
	if rts[0].HoldTime() != 24*time.Hour {
		t.Errorf("hold time = %v, expected 24h", rts[0].HoldTime())
	}
}

func TestMatchFIFOConsumesLotsInOrder(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := []db.Trade{
		trade("ETH/USD", "BUY", 1, 100, 0.2, t0),
		trade("ETH/USD", "BUY", 1, 110, 0.2, t0.Add(time.Hour)),
		trade("ETH/USD", "SELL", 1.5, 120, 0.3, t0.Add(2*time.Hour)),
	}

	rts := MatchFIFO(trades)
	if len(rts) != 1 {
		t.Fatalf("expected 1 round-trip, got %d", len(rts))
	}
	rt := rts[0]

	if math.Abs(rt.Qty-1.5) > 1e-9 {
		t.Fatalf("matched qty = %v, expected 1.5", rt.Qty)
	}
	// Oldest lot fully consumed, second lot half consumed with half its fee.
	wantCost := 1*100.0 + 0.2 + 0.5*110.0 + 0.1
	if math.Abs(rt.BuyCost-wantCost) > 1e-9 {
		t.Errorf("buy cost = %v, expected %v", rt.BuyCost, wantCost)
	}
	if !rt.FirstBuyAt.Equal(t0) {
		t.Errorf("FirstBuyAt = %v, expected oldest lot time %v", rt.FirstBuyAt, t0)
	}

	// Remaining half lot closes against a later sell.
	trades = append(trades, trade("ETH/USD", "SELL", 0.5, 130, 0.1, t0.Add(3*time.Hour)))
	rts = MatchFIFO(trades)
	if len(rts) != 2 {
		t.Fatalf("expected 2 round-trips, got %d", len(rts))
	}
	wantProfit := 0.5*130.0 - 0.1 - (0.5*110.0 + 0.1)
	if math.Abs(rts[1].Profit-wantProfit) > 1e-9 {
		t.Errorf("second profit = %v, expected %v", rts[1].Profit, wantProfit)
	}
}

func TestMatchFIFOSellWithoutLots(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := []db.Trade{
		trade("ADA/USD", "SELL", 5, 1, 0.01, t0),
	}
	if rts := MatchFIFO(trades); len(rts) != 0 {
		t.Errorf("sell with no buy lots must produce no round-trip, got %+v", rts)
	}
}

func TestMatchFIFOKeepsSymbolsSeparate(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := []db.Trade{
		trade("BTC/USD", "BUY", 1, 100, 0, t0),
		trade("ETH/USD", "BUY", 1, 50, 0, t0),
		trade("ETH/USD", "SELL", 1, 60, 0, t0.Add(time.Hour)),
	}

	rts := MatchFIFO(trades)
	if len(rts) != 1 || rts[0].Symbol != "ETH/USD" {
		t.Fatalf("expected one ETH/USD round-trip, got %+v", rts)
	}
	if math.Abs(rts[0].Profit-10) > 1e-9 {
		t.Errorf("profit = %v, expected 10", rts[0].Profit)
	}
}

func TestComputeMetricsWindowFiltersOnSellTime(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	rts := []RoundTrip{
		// Buy predates the window; sell inside. Counts.
		{Symbol: "BTC/USD", Qty: 1, Profit: 10, Fees: 1, FirstBuyAt: from.AddDate(0, 0, -10), SoldAt: from.AddDate(0, 0, 5)},
		// Sell before the window. Excluded.
		{Symbol: "ETH/USD", Qty: 1, Profit: -4, Fees: 1, FirstBuyAt: from.AddDate(0, 0, -5), SoldAt: from.AddDate(0, 0, -1)},
		// Sell inside, a loss.
		{Symbol: "ADA/USD", Qty: 1, Profit: -2, Fees: 1, FirstBuyAt: from.AddDate(0, 0, 3), SoldAt: from.AddDate(0, 0, 6)},
	}

	m := ComputeMetrics(rts, from, to, 0.12)
	if m.RoundTrips != 2 {
		t.Fatalf("RoundTrips = %d, expected 2", m.RoundTrips)
	}
	if m.Wins != 1 || m.WinRate != 0.5 {
		t.Errorf("wins=%d winRate=%v, expected 1 and 0.5", m.Wins, m.WinRate)
	}
	if m.TotalProfit != 8 || m.TotalFees != 2 {
		t.Errorf("totals = %v/%v, expected 8/2", m.TotalProfit, m.TotalFees)
	}
	if m.MaxProfit != 10 || m.MaxLoss != -2 {
		t.Errorf("max profit/loss = %v/%v, expected 10/-2", m.MaxProfit, m.MaxLoss)
	}
	if m.ROI != 0.12 {
		t.Errorf("ROI = %v, expected passthrough 0.12", m.ROI)
	}
}
