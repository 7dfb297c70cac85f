package indicators

import (
	"errors"
	"fmt"
	"math"
	"time"

	"rotation-trader/pkg/exchanges/common"
)

// ErrInsufficientHistory signals the caller to skip the symbol rather than
// compute garbage from a short series.
var ErrInsufficientHistory = errors.New("indicators: insufficient candle history")

// Config holds the indicator periods.
type Config struct {
	EMAShort  int
	EMALong   int
	RSIPeriod int
}

// DefaultConfig returns the standard 12/26/14 periods.
func DefaultConfig() Config {
	return Config{EMAShort: 12, EMALong: 26, RSIPeriod: 14}
}

// Snapshot is the derived indicator set for one symbol at one instant.
type Snapshot struct {
	Symbol      string
	GeneratedAt time.Time
	EMAShort    float64
	EMALong     float64
	RSI         float64
	Score       float64
}

// Compute derives EMA-short, EMA-long, RSI, and the composite score from an
// ordered candle series. Pure function, no side effects. The score
// (emaShort/emaLong)·(1−|RSI−50|/50) rewards bullish crossovers and penalizes
// RSI extremes symmetrically around 50.
func Compute(symbol string, candles []common.Candle, cfg Config) (Snapshot, error) {
	if cfg.EMAShort <= 0 || cfg.EMALong <= 0 || cfg.RSIPeriod <= 0 {
		return Snapshot{}, fmt.Errorf("indicators: invalid periods %+v", cfg)
	}
	if len(candles) < cfg.EMALong {
		return Snapshot{}, fmt.Errorf("%w: %s has %d candles, need %d",
			ErrInsufficientHistory, symbol, len(candles), cfg.EMALong)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	snap := Snapshot{
		Symbol:      symbol,
		GeneratedAt: time.Now().UTC(),
		EMAShort:    EMA(closes, cfg.EMAShort),
		EMALong:     EMA(closes, cfg.EMALong),
		RSI:         RSI(closes, cfg.RSIPeriod),
	}
	if snap.EMALong != 0 {
		snap.Score = (snap.EMAShort / snap.EMALong) * (1 - math.Abs(snap.RSI-50)/50)
	}

	for _, v := range []float64{snap.EMAShort, snap.EMALong, snap.RSI, snap.Score} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Snapshot{}, fmt.Errorf("indicators: non-finite output for %s", symbol)
		}
	}
	return snap, nil
}
