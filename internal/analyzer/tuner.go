package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"rotation-trader/internal/events"
	"rotation-trader/internal/strategy"
	"rotation-trader/pkg/db"
)

// Report statuses.
const (
	StatusNoChanges     = "no_changes"
	StatusApplied       = "applied"
	StatusRecommendOnly = "recommend_only"
)

// drawdownAlertROI is the window ROI at or below which an operator alert
// fires.
const drawdownAlertROI = -0.20

// Recommendation is one proposed parameter change. Only conservative changes
// are applied automatically; the rest wait for manual approval.
type Recommendation struct {
	Parameter string  `json:"parameter"`
	Old       float64 `json:"old"`
	New       float64 `json:"new"`
	Reason    string  `json:"reason"`
	Expected  string  `json:"expected"`
	Integer   bool    `json:"integer"`
	Applied   bool    `json:"applied"`
}

// Analyzer is the nightly batch: FIFO-match the trade log into realized
// round-trips, aggregate the window's metrics, and propose bounded parameter
// changes.
type Analyzer struct {
	DB       *db.Database
	Settings *strategy.SettingsStore
	Bus      *events.Bus

	WindowDays int
}

func New(database *db.Database, settings *strategy.SettingsStore, bus *events.Bus) *Analyzer {
	return &Analyzer{DB: database, Settings: settings, Bus: bus, WindowDays: 30}
}

// Run executes one analysis pass and persists the audit report. A failure to
// apply an individual recommendation is logged and skipped, never fatal.
func (a *Analyzer) Run(ctx context.Context) (db.OptimizationReport, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -a.WindowDays)

	trades, err := a.DB.ListTradesAsc(ctx)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: load trades: %w", err)
	}
	settings, err := a.Settings.Load(ctx)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: load settings: %w", err)
	}

	metrics := ComputeMetrics(MatchFIFO(trades), from, now, a.roi(ctx, from, now))
	if metrics.ROI <= drawdownAlertROI && a.Bus != nil {
		a.Bus.Publish(events.Message{
			Topic:  events.TopicDrawdownAlert,
			Detail: fmt.Sprintf("window ROI %.1f%% over %d days", metrics.ROI*100, a.WindowDays),
		})
	}
	recs := Recommend(metrics, settings)
	applied := a.apply(ctx, settings, recs)

	status := StatusNoChanges
	switch {
	case applied > 0:
		status = StatusApplied
	case len(recs) > 0:
		status = StatusRecommendOnly
	}

	report, err := a.persistReport(ctx, now, metrics, settings, recs, status)
	if err != nil {
		return report, err
	}
	log.Printf("analyzer: run complete, %d round-trips, %d recommendations, %d applied",
		metrics.RoundTrips, len(recs), applied)
	return report, nil
}

// roi reads the window's NAV endpoints; missing history means zero ROI, not
// an error.
func (a *Analyzer) roi(ctx context.Context, from, to time.Time) float64 {
	first, last, err := a.DB.NAVEndpoints(ctx, from, to)
	if err != nil {
		log.Printf("analyzer: nav endpoints: %v", err)
		return 0
	}
	if first.NAV <= 0 {
		return 0
	}
	return last.NAV/first.NAV - 1
}

// Recommend evaluates the threshold heuristics independently; several may
// fire in one run. Deltas beyond the conservative bound are still recorded,
// but marked for manual approval only. Every bound is checked against the
// current stored setting, never against another recommendation in the same
// batch, so two large changes can never compound in one run.
func Recommend(m Metrics, s strategy.Settings) []Recommendation {
	if m.RoundTrips == 0 {
		return nil
	}
	var recs []Recommendation

	if m.WinRate < 0.45 && m.TotalFees > math.Abs(m.TotalProfit)*0.25 {
		recs = append(recs, Recommendation{
			Parameter: "min_profit_pct",
			Old:       s.MinProfitPct,
			New:       s.MinProfitPct * 1.5,
			Reason:    fmt.Sprintf("win rate %.0f%% with fee drag %.2f", m.WinRate*100, m.TotalFees),
			Expected:  "fewer marginal exits that cannot clear fees",
		})
	}

	if m.TradesPerDay > 6 {
		step := 1.0
		if m.TradesPerDay > 12 {
			step = 2 // beyond the auto-apply bound; recorded for manual review
		}
		recs = append(recs, Recommendation{
			Parameter: "cooldown_cycles",
			Old:       float64(s.CooldownCycles),
			New:       float64(s.CooldownCycles) + step,
			Reason:    fmt.Sprintf("%.1f trades/day is excessive churn", m.TradesPerDay),
			Expected:  "longer re-entry wait reduces turnover",
			Integer:   true,
		})
	}

	if m.TotalFees > 0 && m.TotalFees >= m.TotalProfit && s.MaxPositions > 1 {
		recs = append(recs, Recommendation{
			Parameter: "max_positions",
			Old:       float64(s.MaxPositions),
			New:       float64(s.MaxPositions - 1),
			Reason:    fmt.Sprintf("fees %.2f exceed profit %.2f", m.TotalFees, m.TotalProfit),
			Expected:  "fewer concurrent positions cut fee volume",
			Integer:   true,
		})
	}

	if m.MaxLoss < 0 && -m.MaxLoss > 2*m.MaxProfit {
		recs = append(recs, Recommendation{
			Parameter: "stop_loss_pct",
			Old:       s.StopLossPct,
			New:       s.StopLossPct * 0.5,
			Reason:    fmt.Sprintf("max loss %.2f dwarfs max win %.2f", m.MaxLoss, m.MaxProfit),
			Expected:  "tighter stop caps single-trade damage",
		})
	}

	return recs
}

// Conservative reports whether a change is small enough to auto-apply:
// integer settings may step by at most 1, continuous settings by at most 50%
// of the current stored value.
func Conservative(r Recommendation) bool {
	if r.Integer {
		return math.Abs(r.New-r.Old) <= 1
	}
	if r.Old == 0 {
		return r.New == 0
	}
	return math.Abs(r.New-r.Old)/math.Abs(r.Old) <= 0.5+1e-9
}

// apply writes the conservative subset as a new settings version. Each
// recommendation applies or fails independently.
func (a *Analyzer) apply(ctx context.Context, current strategy.Settings, recs []Recommendation) int {
	next := current
	applied := 0
	for i := range recs {
		r := &recs[i]
		if !Conservative(*r) {
			log.Printf("analyzer: %s change %v -> %v exceeds auto-apply bound, manual approval required",
				r.Parameter, r.Old, r.New)
			continue
		}
		if err := setParameter(&next, r.Parameter, r.New); err != nil {
			log.Printf("analyzer: apply %s: %v", r.Parameter, err)
			continue
		}
		if err := next.Validate(); err != nil {
			log.Printf("analyzer: apply %s rejected: %v", r.Parameter, err)
			next = revertParameter(next, current, r.Parameter)
			continue
		}
		r.Applied = true
		applied++
	}

	if applied == 0 {
		return 0
	}
	if err := a.Settings.Save(ctx, next, "auto-tuner"); err != nil {
		log.Printf("analyzer: save tuned settings: %v", err)
		for i := range recs {
			recs[i].Applied = false
		}
		return 0
	}
	if a.Bus != nil {
		a.Bus.Publish(events.Message{
			Topic:  events.TopicSettingsApplied,
			Detail: fmt.Sprintf("auto-tuner applied %d change(s)", applied),
		})
	}
	return applied
}

func setParameter(s *strategy.Settings, name string, value float64) error {
	switch name {
	case "min_profit_pct":
		s.MinProfitPct = value
	case "cooldown_cycles":
		s.CooldownCycles = int(value)
	case "max_positions":
		s.MaxPositions = int(value)
	case "stop_loss_pct":
		s.StopLossPct = value
	default:
		return fmt.Errorf("unknown tunable parameter %q", name)
	}
	return nil
}

func revertParameter(next, current strategy.Settings, name string) strategy.Settings {
	switch name {
	case "min_profit_pct":
		next.MinProfitPct = current.MinProfitPct
	case "cooldown_cycles":
		next.CooldownCycles = current.CooldownCycles
	case "max_positions":
		next.MaxPositions = current.MaxPositions
	case "stop_loss_pct":
		next.StopLossPct = current.StopLossPct
	}
	return next
}

func (a *Analyzer) persistReport(ctx context.Context, runAt time.Time, m Metrics, s strategy.Settings, recs []Recommendation, status string) (db.OptimizationReport, error) {
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: encode metrics: %w", err)
	}
	settingsJSON, err := json.Marshal(s)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: encode settings: %w", err)
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: encode recommendations: %w", err)
	}
	var appliedOnly []Recommendation
	for _, r := range recs {
		if r.Applied {
			appliedOnly = append(appliedOnly, r)
		}
	}
	appliedJSON, err := json.Marshal(appliedOnly)
	if err != nil {
		return db.OptimizationReport{}, fmt.Errorf("analyzer: encode applied changes: %w", err)
	}

	report := db.OptimizationReport{
		ID:              uuid.NewString(),
		RunDate:         runAt,
		Metrics:         string(metricsJSON),
		Settings:        string(settingsJSON),
		Recommendations: string(recsJSON),
		AppliedChanges:  string(appliedJSON),
		Status:          status,
	}
	if err := a.DB.CreateOptimizationReport(ctx, report); err != nil {
		return report, fmt.Errorf("analyzer: store report: %w", err)
	}
	return report, nil
}
