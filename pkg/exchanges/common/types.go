package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Ticker is a best bid/ask/last snapshot for one symbol.
type Ticker struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
}

// Candle is one OHLCV bucket, ordered by open time ascending.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// LotInfo captures the tradable constraints for one symbol.
type LotInfo struct {
	Symbol        string
	LotStep       float64 // minimum tradable increment
	QtyDecimals   int     // decimal precision for quantity
	PriceDecimals int     // decimal precision for price
	MinOrderQty   float64 // exchange minimum order size
}

// LimitOrderRequest places a resting order; PostOnly guarantees maker fees.
type LimitOrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	Price    float64
	PostOnly bool
	ClientID string
}

// MarketOrderRequest executes immediately at the best available price.
type MarketOrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	ClientID string
}

// OrderAck returns the exchange acknowledgment for a placed order.
type OrderAck struct {
	ExchangeOrderID string
	Status          OrderStatus
}

// OrderState is the authoritative view of an order from the exchange.
// AvgFillPrice and Fee come from the exchange response, never estimated.
type OrderState struct {
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Status          OrderStatus
	Qty             float64
	FilledQty       float64
	AvgFillPrice    float64
	Fee             float64
}

// Remaining reports the unfilled quantity.
func (s OrderState) Remaining() float64 {
	if r := s.Qty - s.FilledQty; r > 0 {
		return r
	}
	return 0
}
