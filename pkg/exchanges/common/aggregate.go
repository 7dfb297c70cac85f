package common

import "time"

// AggregateCandles rebuckets finer-grained candles into target-interval
// buckets: open from the first source candle, close from the last, high/low
// as extremes, volume summed. Bucket boundary is floor(time/target)*target.
// Input must be ordered ascending; output preserves that order.
func AggregateCandles(src []Candle, target time.Duration) []Candle {
	if target <= 0 || len(src) == 0 {
		return nil
	}

	targetMs := target.Milliseconds()
	var out []Candle
	var cur *Candle

	for _, c := range src {
		bucket := c.Time.UnixMilli() / targetMs * targetMs
		start := time.UnixMilli(bucket).UTC()

		if cur == nil || !cur.Time.Equal(start) {
			if cur != nil {
				out = append(out, *cur)
			}
			cc := c
			cc.Time = start
			cur = &cc
			continue
		}

		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
