package strategy

import "rotation-trader/pkg/exchanges/common"

// Intent is one trade decision emitted by the evaluator. The evaluator does
// no order I/O itself; the lifecycle manager executes intents.
type Intent struct {
	Symbol string
	Side   common.Side
	Qty    float64
	Price  float64 // reference price at decision time
	Reason string
}

// candidate is a screened symbol with its indicator snapshot.
type candidate struct {
	Symbol string
	Score  float64
	RSI    float64
	Price  float64 // last trade price from ticker
	Bid    float64
	Ask    float64
}

// PendingLister reports symbols with in-flight buy orders so they count
// toward the position cap.
type PendingLister interface {
	PendingBuySymbols() []string
}
