package indicator

// EMA seeds with the first value and applies 2/(period+1) smoothing across the
// whole slice.
func EMA(values []float64, period int) Reading {
	if period <= 0 || len(values) < period {
		return Reading{}
	}
	series := emaSeries(values, period)
	return Reading{Value: series[len(series)-1], Valid: true}
}

func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mult := 2 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*mult + out[i-1]
	}
	return out
}

// MACD computes EMA(short) - EMA(long) and its signal line.
func MACD(closes []float64, short, long, signalPeriod int, mode SignalMode) MACDReading {
	if short <= 0 || long <= 0 || signalPeriod <= 0 || len(closes) < long {
		return MACDReading{}
	}
	shortEMA := emaSeries(closes, short)
	longEMA := emaSeries(closes, long)
	last := len(closes) - 1
	line := shortEMA[last] - longEMA[last]

	switch mode {
	case SignalRolling:
		history := make([]float64, 0, len(closes)-long+1)
		for i := long - 1; i < len(closes); i++ {
			history = append(history, shortEMA[i]-longEMA[i])
		}
		sig := EMA(history, signalPeriod)
		if !sig.Valid {
			return MACDReading{Line: line}
		}
		return MACDReading{Line: line, Signal: sig.Value, Valid: true}
	default:
		repeated := make([]float64, signalPeriod)
		for i := range repeated {
			repeated[i] = line
		}
		sig := EMA(repeated, signalPeriod)
		return MACDReading{Line: line, Signal: sig.Value, Valid: true}
	}
}
