package common

import (
	"context"
	"time"
)

// Gateway abstracts a trading venue with a uniform contract. Implementations
// own symbol mapping, request signing, and error translation.
type Gateway interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Balances(ctx context.Context) (map[string]float64, error)
	Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]Candle, error)
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (OrderAck, error)
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	OrderStatus(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error)
	LotInfo(ctx context.Context, symbol string) (LotInfo, error)
}
