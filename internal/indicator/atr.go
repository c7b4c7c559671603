package indicator

import "math"

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is the simple mean of the last period true ranges.
func ATR(highs, lows, closes []float64, period int) Reading {
	n := len(closes)
	if period <= 0 || len(highs) < period+1 || len(lows) < period+1 || n < period+1 {
		return Reading{}
	}
	if len(highs) != n || len(lows) != n {
		return Reading{}
	}
	var sum float64
	for i := n - period; i < n; i++ {
		sum += TrueRange(highs[i], lows[i], closes[i-1])
	}
	return Reading{Value: sum / float64(period), Valid: true}
}
