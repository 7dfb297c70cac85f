package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"rotation-trader/pkg/exchanges/common"
)

// supportedIntervals are the OHLC bucket sizes Kraken serves natively,
// in minutes, descending.
var supportedIntervals = []int64{21600, 10080, 1440, 240, 60, 30, 15, 5, 1}

// Candles returns up to limit candles for the symbol at the requested
// interval, oldest first. Intervals the exchange does not serve natively are
// built client-side by aggregating the next-finer supported interval.
func (c *Client) Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]common.Candle, error) {
	minutes := int64(interval / time.Minute)
	if minutes <= 0 {
		return nil, fmt.Errorf("kraken: invalid candle interval %v", interval)
	}

	if isSupported(minutes) {
		candles, err := c.fetchOHLC(ctx, symbol, minutes)
		if err != nil {
			return nil, err
		}
		return tail(candles, limit), nil
	}

	finer := finerInterval(minutes)
	if finer == 0 {
		return nil, fmt.Errorf("kraken: no supported interval divides %v", interval)
	}
	ratio := int(minutes / finer)
	raw, err := c.fetchOHLC(ctx, symbol, finer)
	if err != nil {
		return nil, err
	}
	aggregated := common.AggregateCandles(tail(raw, limit*ratio), interval)
	return tail(aggregated, limit), nil
}

func isSupported(minutes int64) bool {
	for _, m := range supportedIntervals {
		if m == minutes {
			return true
		}
	}
	return false
}

// finerInterval picks the largest supported interval that evenly divides the
// target, so aggregation buckets line up exactly.
func finerInterval(minutes int64) int64 {
	for _, m := range supportedIntervals {
		if m < minutes && minutes%m == 0 {
			return m
		}
	}
	return 0
}

func tail(candles []common.Candle, n int) []common.Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}

func (c *Client) fetchOHLC(ctx context.Context, symbol string, minutes int64) ([]common.Candle, error) {
	pair, err := c.mapper.ToExchange(symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("interval", strconv.FormatInt(minutes, 10))

	var result map[string]json.RawMessage
	if err := c.public(ctx, "/0/public/OHLC", params, &result); err != nil {
		return nil, err
	}

	// The result holds the pair rows plus a "last" cursor; find the rows.
	var rows [][]any
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken: decode OHLC rows: %w", err)
		}
		break
	}

	candles := make([]common.Candle, 0, len(rows))
	for _, row := range rows {
		// Row layout: [time, open, high, low, close, vwap, volume, count].
		if len(row) < 7 {
			continue
		}
		ts, ok := row[0].(float64)
		if !ok {
			continue
		}
		candle := common.Candle{
			Time:   time.Unix(int64(ts), 0).UTC(),
			Open:   parseField(row[1]),
			High:   parseField(row[2]),
			Low:    parseField(row[3]),
			Close:  parseField(row[4]),
			Volume: parseField(row[6]),
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseField(v any) float64 {
	switch x := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case float64:
		return x
	default:
		return 0
	}
}
