package analyzer

import "time"

// Metrics aggregates the realized round-trips of one analysis window.
type Metrics struct {
	WindowDays   int     `json:"window_days"`
	RoundTrips   int     `json:"round_trips"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	TotalProfit  float64 `json:"total_profit"`
	AvgProfit    float64 `json:"avg_profit"`
	TotalFees    float64 `json:"total_fees"`
	TradesPerDay float64 `json:"trades_per_day"`
	AvgHoldHours float64 `json:"avg_hold_hours"`
	MaxProfit    float64 `json:"max_profit"`
	MaxLoss      float64 `json:"max_loss"`
	ROI          float64 `json:"roi"`
}

// ComputeMetrics aggregates round-trips whose sell landed inside the window.
// A sell may close a buy lot opened before the window; the buy side never
// gates inclusion. ROI comes from NAV history endpoints and is supplied by
// the caller (zero when history is missing).
func ComputeMetrics(roundTrips []RoundTrip, from, to time.Time, roi float64) Metrics {
	days := int(to.Sub(from).Hours() / 24)
	if days < 1 {
		days = 1
	}
	m := Metrics{WindowDays: days, ROI: roi}

	var holdHours float64
	for _, rt := range roundTrips {
		if rt.SoldAt.Before(from) || rt.SoldAt.After(to) {
			continue
		}
		m.RoundTrips++
		m.TotalProfit += rt.Profit
		m.TotalFees += rt.Fees
		holdHours += rt.HoldTime().Hours()

		if rt.Profit > 0 {
			m.Wins++
		}
		if rt.Profit > m.MaxProfit {
			m.MaxProfit = rt.Profit
		}
		if rt.Profit < m.MaxLoss {
			m.MaxLoss = rt.Profit
		}
	}

	if m.RoundTrips > 0 {
		m.WinRate = float64(m.Wins) / float64(m.RoundTrips)
		m.AvgProfit = m.TotalProfit / float64(m.RoundTrips)
		m.AvgHoldHours = holdHours / float64(m.RoundTrips)
	}
	m.TradesPerDay = float64(m.RoundTrips) / float64(days)
	return m
}
