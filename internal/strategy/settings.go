package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rotation-trader/pkg/db"
)

// Settings is the versioned strategy configuration. It is loaded fresh as an
// immutable snapshot at the start of each cycle and never mutated mid-cycle.
// Written only by explicit user action or the auto-tuner.
type Settings struct {
	Enabled          bool     `json:"enabled"`
	Universe         []string `json:"universe"`
	CadenceHours     int      `json:"cadence_hours"`
	MinNAV           float64  `json:"min_nav"`
	MaxPositions     int      `json:"max_positions"`
	MaxAllocFraction float64  `json:"max_alloc_fraction"`
	RSILow           float64  `json:"rsi_low"`
	RSIHigh          float64  `json:"rsi_high"`
	CooldownCycles   int      `json:"cooldown_cycles"`
	VolatilityPause  float64  `json:"volatility_pause"` // 24h return magnitude that pauses a symbol
	TakePartialPct   float64  `json:"take_partial_pct"` // unrealized gain that triggers scaling out
	StopPartialPct   float64  `json:"stop_partial_pct"` // unrealized loss that triggers scaling out (negative)
	TrimFraction     float64  `json:"trim_fraction"`
	TopKStrong       int      `json:"top_k_strong"` // signals strong enough to hold/average up
	MinOrderUSD      float64  `json:"min_order_usd"`
	MinProfitPct     float64  `json:"min_profit_pct"` // tuner-managed floor for profitable exits
	StopLossPct      float64  `json:"stop_loss_pct"`  // tuner-managed hard stop (negative)
}

// DefaultSettings are the documented defaults; the thresholds are heuristic
// and meant to be tuned per deployment.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		Universe:         []string{"BTC/USD", "ETH/USD", "SOL/USD", "ADA/USD", "XRP/USD", "DOT/USD", "LINK/USD", "AVAX/USD"},
		CadenceHours:     4,
		MinNAV:           100,
		MaxPositions:     4,
		MaxAllocFraction: 0.25,
		RSILow:           35,
		RSIHigh:          65,
		CooldownCycles:   3,
		VolatilityPause:  0.10,
		TakePartialPct:   0.08,
		StopPartialPct:   -0.05,
		TrimFraction:     0.30,
		TopKStrong:       2,
		MinOrderUSD:      10,
		MinProfitPct:     0.01,
		StopLossPct:      -0.10,
	}
}

// Validate rejects unsafe configurations outright. Safety-relevant parameters
// are never silently defaulted.
func (s Settings) Validate() error {
	switch {
	case len(s.Universe) == 0:
		return errors.New("settings: universe is empty")
	case s.CadenceHours < 1:
		return fmt.Errorf("settings: cadence_hours %d < 1", s.CadenceHours)
	case s.MinNAV < 0:
		return fmt.Errorf("settings: min_nav %v < 0", s.MinNAV)
	case s.MaxPositions < 1:
		return fmt.Errorf("settings: max_positions %d < 1", s.MaxPositions)
	case s.MaxAllocFraction <= 0 || s.MaxAllocFraction > 1:
		return fmt.Errorf("settings: max_alloc_fraction %v outside (0,1]", s.MaxAllocFraction)
	case s.RSILow < 0 || s.RSIHigh > 100 || s.RSILow >= s.RSIHigh:
		return fmt.Errorf("settings: rsi band [%v,%v] invalid", s.RSILow, s.RSIHigh)
	case s.CooldownCycles < 0:
		return fmt.Errorf("settings: cooldown_cycles %d < 0", s.CooldownCycles)
	case s.VolatilityPause <= 0:
		return fmt.Errorf("settings: volatility_pause %v must be > 0", s.VolatilityPause)
	case s.TakePartialPct <= 0:
		return fmt.Errorf("settings: take_partial_pct %v must be > 0", s.TakePartialPct)
	case s.StopPartialPct >= 0:
		return fmt.Errorf("settings: stop_partial_pct %v must be < 0", s.StopPartialPct)
	case s.TrimFraction <= 0 || s.TrimFraction >= 1:
		return fmt.Errorf("settings: trim_fraction %v outside (0,1)", s.TrimFraction)
	case s.TopKStrong < 1:
		return fmt.Errorf("settings: top_k_strong %d < 1", s.TopKStrong)
	case s.MinOrderUSD < 0:
		return fmt.Errorf("settings: min_order_usd %v < 0", s.MinOrderUSD)
	case s.MinProfitPct < 0:
		return fmt.Errorf("settings: min_profit_pct %v < 0", s.MinProfitPct)
	case s.StopLossPct >= 0:
		return fmt.Errorf("settings: stop_loss_pct %v must be < 0", s.StopLossPct)
	}
	return nil
}

// SettingsStore loads and appends versioned settings in the DB.
type SettingsStore struct {
	DB *db.Database
}

// Load returns the latest validated settings snapshot.
func (st *SettingsStore) Load(ctx context.Context) (Settings, error) {
	rec, err := st.DB.LatestSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal([]byte(rec.Data), &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings v%d: %w", rec.Version, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save validates and appends a new settings version.
func (st *SettingsStore) Save(ctx context.Context, s Settings, source string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return st.DB.AppendSettings(ctx, string(data), source)
}

// EnsureSeed writes the defaults when no settings version exists yet.
func (st *SettingsStore) EnsureSeed(ctx context.Context) error {
	_, err := st.DB.LatestSettings(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return st.Save(ctx, DefaultSettings(), "seed")
	}
	return err
}
