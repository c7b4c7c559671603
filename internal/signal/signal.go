// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import "time"

// Candle models one OHLCV bucket as delivered by the market gateway.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Series is an ordered candle sequence, oldest first.
type Series []Candle

// Closes returns the close prices of the series.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high prices of the series.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows returns the low prices of the series.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Last returns the most recent candle, if any.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Action is the outcome of the decision policy.
type Action int

const (
	// Hold leaves the position untouched.
	Hold Action = iota
	// Buy opens a position with the available quote balance.
	Buy
	// Sell closes the entire held position.
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Decision expresses what a strategy wants to do on this cycle and why.
type Decision struct {
	Action Action
	Reason string
	Ts     time.Time
}
