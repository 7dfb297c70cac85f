package db

import "time"

// Position status values.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Position tracks one holding. Entry price is the quantity-weighted average
// across averaging-up buys while the position is open.
type Position struct {
	ID         string
	Symbol     string
	Qty        float64
	EntryPrice float64
	Status     string
	Flagged    bool
	Note       string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// Trade is an immutable fill fact confirmed by the exchange.
type Trade struct {
	ID              string
	PositionID      string
	Symbol          string
	Side            string
	Qty             float64
	Price           float64
	Fee             float64
	ExchangeOrderID string
	CreatedAt       time.Time
}

// Candle is one stored OHLCV bucket.
type Candle struct {
	Symbol   string
	Interval string
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// IndicatorSnapshot is a write-once record of one evaluation's indicators.
type IndicatorSnapshot struct {
	ID          string
	Symbol      string
	GeneratedAt time.Time
	EMAShort    float64
	EMALong     float64
	RSI         float64
	Score       float64
}

// SettingsRecord is one version of the strategy settings (JSON payload).
type SettingsRecord struct {
	Version   int64
	Data      string
	Source    string
	CreatedAt time.Time
}

// OptimizationReport is the append-only audit record of one tuning run.
type OptimizationReport struct {
	ID              string
	RunDate         time.Time
	Metrics         string
	Settings        string
	Recommendations string
	AppliedChanges  string
	Status          string
}

// ReconciliationReport records one ledger-vs-exchange diff pass.
type ReconciliationReport struct {
	ID          string
	RunAt       time.Time
	Diffs       string
	SyncedCount int
	HasDiffs    bool
}

// NAVPoint is one net-asset-value observation.
type NAVPoint struct {
	Time time.Time
	NAV  float64
	Cash float64
}
