package analyzer

import (
	"strings"
	"time"

	"rotation-trader/pkg/db"
)

// RoundTrip is the realized result of one sell matched against prior buy lots.
type RoundTrip struct {
	Symbol     string
	Qty        float64 // matched quantity (may be less than the sell if lots ran out)
	BuyCost    float64 // matched quantity at buy price plus proportional buy fees
	Proceeds   float64 // matched quantity at sell price minus proportional sell fee
	Profit     float64
	Fees       float64
	FirstBuyAt time.Time
	SoldAt     time.Time
}

// HoldTime is the span from the earliest matched buy lot to the sell.
func (r RoundTrip) HoldTime() time.Duration {
	return r.SoldAt.Sub(r.FirstBuyAt)
}

// buyLot is one unmatched buy remainder in a per-symbol FIFO queue.
type buyLot struct {
	qty   float64
	price float64
	fee   float64
	at    time.Time
}

// MatchFIFO replays the trade log in time order and pairs each sell against
// the oldest unmatched buy lots of its symbol. Each consumed lot contributes
// its fee proportionally to the consumed quantity. A sell with no remaining
// buy lots (e.g. a position adopted by reconciliation) matches only what the
// queue holds; the unmatched remainder carries no realized P&L.
func MatchFIFO(trades []db.Trade) []RoundTrip {
	queues := make(map[string][]buyLot)
	var out []RoundTrip

	for _, t := range trades {
		switch strings.ToUpper(t.Side) {
		case "BUY":
			queues[t.Symbol] = append(queues[t.Symbol], buyLot{
				qty: t.Qty, price: t.Price, fee: t.Fee, at: t.CreatedAt,
			})

		case "SELL":
			queue := queues[t.Symbol]
			if len(queue) == 0 {
				continue
			}

			rt := RoundTrip{Symbol: t.Symbol, SoldAt: t.CreatedAt, FirstBuyAt: queue[0].at}
			remaining := t.Qty
			for remaining > 0 && len(queue) > 0 {
				lot := &queue[0]
				take := lot.qty
				if take > remaining {
					take = remaining
				}
				feeShare := lot.fee * take / lot.qty

				rt.Qty += take
				rt.BuyCost += take*lot.price + feeShare
				rt.Fees += feeShare

				lot.qty -= take
				lot.fee -= feeShare
				remaining -= take
				if lot.qty <= 0 {
					queue = queue[1:]
				}
			}
			queues[t.Symbol] = queue

			if rt.Qty > 0 {
				sellFeeShare := t.Fee * rt.Qty / t.Qty
				rt.Proceeds = rt.Qty*t.Price - sellFeeShare
				rt.Fees += sellFeeShare
				rt.Profit = rt.Proceeds - rt.BuyCost
				out = append(out, rt)
			}
		}
	}
	return out
}
