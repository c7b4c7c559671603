package indicator

import "math"

// Bollinger returns SMA ± k population standard deviations over the trailing window.
func Bollinger(closes []float64, period int, k float64) Bands {
	if period <= 0 || len(closes) < period {
		return Bands{}
	}
	window := closes[len(closes)-period:]
	sma := mean(window)
	var variance float64
	for _, v := range window {
		d := v - sma
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))
	return Bands{Upper: sma + k*stddev, Lower: sma - k*stddev, Valid: true}
}
