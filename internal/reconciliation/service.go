package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"rotation-trader/internal/events"
	"rotation-trader/internal/state"
	"rotation-trader/pkg/db"
	"rotation-trader/pkg/exchanges/common"
)

// Diff is one observed mismatch between the ledger and the exchange.
type Diff struct {
	Symbol   string  `json:"symbol"`
	Kind     string  `json:"kind"` // quantity_drift | untracked_balance | missing_balance | out_of_universe
	Ledger   float64 `json:"ledger"`
	Exchange float64 `json:"exchange"`
	Action   string  `json:"action"`
}

// Config holds reconciliation thresholds.
type Config struct {
	QuoteAsset  string  // balances in this asset are cash, not positions
	DriftEps    float64 // absolute quantity drift below this is noise
	MinValueUSD float64 // exchange balances worth less than this are dust
}

func DefaultConfig() Config {
	return Config{
		QuoteAsset:  "USD",
		DriftEps:    1e-8,
		MinValueUSD: 1.0,
	}
}

// Service periodically diffs exchange balances against the position ledger.
// The exchange is the source of truth for quantities: tracked positions are
// adjusted to the exchange-reported amount, untracked balances inside the
// trading universe are adopted at market price, and anything the service
// cannot explain is flagged for the operator rather than force-closed.
type Service struct {
	Gateway common.Gateway
	DB      *db.Database
	State   *state.Manager
	Bus     *events.Bus
	Cfg     Config
}

func NewService(gw common.Gateway, database *db.Database, st *state.Manager, bus *events.Bus, cfg Config) *Service {
	return &Service{Gateway: gw, DB: database, State: st, Bus: bus, Cfg: cfg}
}

// Run performs one reconciliation pass over the given trading universe and
// persists an audit report. Per-symbol failures are contained.
func (s *Service) Run(ctx context.Context, universe []string) (db.ReconciliationReport, error) {
	balances, err := s.Gateway.Balances(ctx)
	if err != nil {
		return db.ReconciliationReport{}, fmt.Errorf("reconciliation: balances: %w", err)
	}

	inUniverse := make(map[string]bool, len(universe))
	for _, sym := range universe {
		inUniverse[sym] = true
	}

	exchangeQty := make(map[string]float64, len(balances))
	for asset, qty := range balances {
		if asset == s.Cfg.QuoteAsset || qty <= 0 {
			continue
		}
		exchangeQty[asset+"/"+s.Cfg.QuoteAsset] = qty
	}

	var (
		diffs  []Diff
		synced int
	)

	// Tracked positions first: adjust quantity drift, close what vanished.
	for _, p := range s.State.OpenPositions() {
		exch := exchangeQty[p.Symbol]
		delete(exchangeQty, p.Symbol)

		if !inUniverse[p.Symbol] {
			diffs = append(diffs, s.flagOutOfUniverse(ctx, p, exch))
			continue
		}

		drift := exch - p.Qty
		if math.Abs(drift) <= s.Cfg.DriftEps {
			continue
		}

		d := Diff{Symbol: p.Symbol, Kind: "quantity_drift", Ledger: p.Qty, Exchange: exch}
		if exch <= s.Cfg.DriftEps {
			d.Kind = "missing_balance"
		}
		if err := s.State.SetQty(ctx, p.Symbol, exch); err != nil {
			log.Printf("reconciliation: adjust %s: %v", p.Symbol, err)
			d.Action = "adjust failed: " + err.Error()
		} else {
			d.Action = fmt.Sprintf("ledger quantity set to %v", exch)
			synced++
		}
		diffs = append(diffs, d)
	}

	// Remaining exchange balances have no open position.
	for symbol, qty := range exchangeQty {
		if !inUniverse[symbol] {
			diffs = append(diffs, Diff{
				Symbol: symbol, Kind: "out_of_universe", Exchange: qty,
				Action: "ignored: balance outside trading universe",
			})
			continue
		}
		diffs = append(diffs, s.adoptBalance(ctx, symbol, qty, &synced))
	}

	report, err := s.persistReport(ctx, diffs, synced)
	if err != nil {
		return report, err
	}
	if report.HasDiffs {
		s.publish(diffs)
	}
	log.Printf("reconciliation: pass complete, %d diffs, %d synced", len(diffs), synced)
	return report, nil
}

// adoptBalance opens a ledger position for an exchange balance in the
// universe, priced at current market. Dust stays unadopted.
func (s *Service) adoptBalance(ctx context.Context, symbol string, qty float64, synced *int) Diff {
	d := Diff{Symbol: symbol, Kind: "untracked_balance", Exchange: qty}

	ticker, err := s.Gateway.Ticker(ctx, symbol)
	if err != nil {
		log.Printf("reconciliation: ticker %s: %v", symbol, err)
		d.Action = "adopt failed: " + err.Error()
		return d
	}
	price := ticker.Last
	if price <= 0 {
		price = ticker.Bid
	}
	if qty*price < s.Cfg.MinValueUSD {
		d.Action = fmt.Sprintf("ignored: dust worth under $%v", s.Cfg.MinValueUSD)
		return d
	}

	if _, err := s.State.CreateFromBalance(ctx, symbol, qty, price); err != nil {
		log.Printf("reconciliation: adopt %s: %v", symbol, err)
		d.Action = "adopt failed: " + err.Error()
		return d
	}
	d.Action = fmt.Sprintf("position created at market price %v", price)
	*synced++
	return d
}

// flagOutOfUniverse marks a held position whose symbol left the universe.
// Liquidation is an operator decision, never automatic.
func (s *Service) flagOutOfUniverse(ctx context.Context, p db.Position, exch float64) Diff {
	d := Diff{Symbol: p.Symbol, Kind: "out_of_universe", Ledger: p.Qty, Exchange: exch}
	if p.Flagged {
		d.Action = "already flagged"
		return d
	}
	if err := s.State.Flag(ctx, p.Symbol, "symbol no longer in trading universe"); err != nil {
		log.Printf("reconciliation: flag %s: %v", p.Symbol, err)
		d.Action = "flag failed: " + err.Error()
		return d
	}
	d.Action = "flagged for operator review"
	return d
}

func (s *Service) persistReport(ctx context.Context, diffs []Diff, synced int) (db.ReconciliationReport, error) {
	payload, err := json.Marshal(diffs)
	if err != nil {
		return db.ReconciliationReport{}, fmt.Errorf("reconciliation: encode diffs: %w", err)
	}
	report := db.ReconciliationReport{
		ID:          uuid.NewString(),
		RunAt:       time.Now().UTC(),
		Diffs:       string(payload),
		SyncedCount: synced,
		HasDiffs:    len(diffs) > 0,
	}
	if err := s.DB.CreateReconciliationReport(ctx, report); err != nil {
		return report, fmt.Errorf("reconciliation: store report: %w", err)
	}
	return report, nil
}

func (s *Service) publish(diffs []Diff) {
	if s.Bus == nil {
		return
	}
	var parts []string
	for _, d := range diffs {
		parts = append(parts, fmt.Sprintf("%s(%s)", d.Symbol, d.Kind))
	}
	s.Bus.Publish(events.Message{Topic: events.TopicPositionDrift, Detail: strings.Join(parts, ", ")})
}
