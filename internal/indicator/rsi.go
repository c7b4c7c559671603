package indicator

// NeutralRSI is reported alongside an invalid RSI reading.
const NeutralRSI = 50.0

// RSI is the relative strength index using a simple average of the trailing
// period gains and losses.
func RSI(closes []float64, period int) Reading {
	if period <= 0 || len(closes) < period+1 {
		return Reading{Value: NeutralRSI}
	}
	window := closes[len(closes)-period-1:]
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			// no movement at all
			return Reading{Value: NeutralRSI, Valid: true}
		}
		return Reading{Value: 100, Valid: true}
	}
	rs := avgGain / avgLoss
	return Reading{Value: 100 - 100/(1+rs), Valid: true}
}
