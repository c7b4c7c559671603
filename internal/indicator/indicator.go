// Package indicator computes technical indicators from immutable price series.
//
// Every function is pure. When a series is too short the result is marked
// invalid instead of returning a number that merely looks plausible.
package indicator

import (
	"math"

	"spotbot-go/internal/signal"
)

// Reading is a single indicator value tagged with its availability.
type Reading struct {
	Value float64
	Valid bool
}

// Usable reports whether the reading is valid and finite.
func (r Reading) Usable() bool {
	return r.Valid && finite(r.Value)
}

// Bands is a Bollinger envelope.
type Bands struct {
	Upper float64
	Lower float64
	Valid bool
}

// Width is upper minus lower.
func (b Bands) Width() float64 { return b.Upper - b.Lower }

// Usable reports whether the bands are valid and finite.
func (b Bands) Usable() bool {
	return b.Valid && finite(b.Upper) && finite(b.Lower)
}

// MACDReading holds the MACD and signal lines.
type MACDReading struct {
	Line   float64
	Signal float64
	Valid  bool
}

// Histogram is line minus signal.
func (m MACDReading) Histogram() float64 { return m.Line - m.Signal }

// Usable reports whether both lines are valid and finite.
func (m MACDReading) Usable() bool {
	return m.Valid && finite(m.Line) && finite(m.Signal)
}

// Snapshot is the indicator set handed to the decision policy.
type Snapshot struct {
	RSI       Reading
	ATR       Reading
	Bollinger Bands
	MACD      MACDReading
}

// Ready is true only when every indicator is usable.
func (s Snapshot) Ready() bool {
	return len(s.Unavailable()) == 0
}

// Unavailable lists the indicators that cannot be trusted this cycle.
func (s Snapshot) Unavailable() []string {
	var out []string
	if !s.RSI.Usable() {
		out = append(out, "rsi")
	}
	if !s.ATR.Usable() {
		out = append(out, "atr")
	}
	if !s.Bollinger.Usable() {
		out = append(out, "bollinger")
	}
	if !s.MACD.Usable() {
		out = append(out, "macd")
	}
	return out
}

// SignalMode selects how the MACD signal line is derived.
type SignalMode string

const (
	// SignalCompat takes the EMA of the current MACD line repeated signalPeriod times.
	SignalCompat SignalMode = "compat"
	// SignalRolling takes the EMA of the trailing MACD-line history.
	SignalRolling SignalMode = "rolling"
)

// Params groups indicator periods.
type Params struct {
	RSIPeriod       int
	ATRPeriod       int
	BollingerPeriod int
	BollingerK      float64
	MACDShort       int
	MACDLong        int
	MACDSignal      int
	SignalMode      SignalMode
}

// DefaultParams returns the classic 14/14/20x2/12-26-9 setup.
func DefaultParams() Params {
	return Params{
		RSIPeriod:       14,
		ATRPeriod:       14,
		BollingerPeriod: 20,
		BollingerK:      2,
		MACDShort:       12,
		MACDLong:        26,
		MACDSignal:      9,
		SignalMode:      SignalCompat,
	}
}

// withDefaults fills zero fields from DefaultParams.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = d.RSIPeriod
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = d.ATRPeriod
	}
	if p.BollingerPeriod <= 0 {
		p.BollingerPeriod = d.BollingerPeriod
	}
	if p.BollingerK <= 0 {
		p.BollingerK = d.BollingerK
	}
	if p.MACDShort <= 0 {
		p.MACDShort = d.MACDShort
	}
	if p.MACDLong <= 0 {
		p.MACDLong = d.MACDLong
	}
	if p.MACDSignal <= 0 {
		p.MACDSignal = d.MACDSignal
	}
	if p.SignalMode == "" {
		p.SignalMode = d.SignalMode
	}
	return p
}

// MinLookback is the number of candles needed before every indicator can be valid.
func (p Params) MinLookback() int {
	p = p.withDefaults()
	need := max(p.RSIPeriod+1, p.ATRPeriod+1, p.BollingerPeriod, p.MACDLong)
	if p.SignalMode == SignalRolling {
		need = max(need, p.MACDLong+p.MACDSignal-1)
	}
	return need
}

// Compute derives the full snapshot from a candle series.
func Compute(series signal.Series, p Params) Snapshot {
	p = p.withDefaults()
	closes := series.Closes()
	return Snapshot{
		RSI:       RSI(closes, p.RSIPeriod),
		ATR:       ATR(series.Highs(), series.Lows(), closes, p.ATRPeriod),
		Bollinger: Bollinger(closes, p.BollingerPeriod, p.BollingerK),
		MACD:      MACD(closes, p.MACDShort, p.MACDLong, p.MACDSignal, p.SignalMode),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
