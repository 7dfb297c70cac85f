package indicators

// EMA computes an exponential moving average over the full series with
// smoothing factor 2/(period+1), seeded by the simple average of the first
// period values. Returns 0 if the series is shorter than period.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)

	alpha := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(values); i++ {
		ema = values[i]*alpha + ema*(1-alpha)
	}
	return ema
}
