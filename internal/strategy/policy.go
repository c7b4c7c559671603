package strategy

import (
	"fmt"
	"time"

	"spotbot-go/internal/indicator"
	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"

	"github.com/shopspring/decimal"
)

// Policy is the RSI entry / profit-gated exit rule set. It is pure: the same
// inputs always produce the same decision.
type Policy struct {
	params     Params
	disableATR bool
	now        func() time.Time
}

// NewPolicy builds a policy, filling zero thresholds with defaults.
func NewPolicy(params Params) *Policy {
	def := DefaultParams()
	if params.RSIOversold <= 0 {
		params.RSIOversold = def.RSIOversold
	}
	if params.RSIOverbought <= 0 {
		params.RSIOverbought = def.RSIOverbought
	}
	if !params.TakeProfitPercent.IsPositive() {
		params.TakeProfitPercent = def.TakeProfitPercent
	}
	if params.FeeRatePerSide.IsNegative() {
		params.FeeRatePerSide = def.FeeRatePerSide
	}
	if !params.ATRStopMultiplier.IsPositive() {
		params.ATRStopMultiplier = def.ATRStopMultiplier
	}
	if !params.ATRTargetMultiplier.IsPositive() {
		params.ATRTargetMultiplier = def.ATRTargetMultiplier
	}
	return &Policy{params: params, now: time.Now}
}

// Name returns the configured identifier for logging.
func (p *Policy) Name() string {
	if p.disableATR {
		return "RSIOnly"
	}
	return "RSIATR"
}

// Params exposes the effective thresholds.
func (p *Policy) Params() Params { return p.params }

// NetProfit is the round-trip return after paying the fee on both sides.
func NetProfit(entry, last, feePerSide decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	gross := last.Sub(entry).Div(entry)
	return gross.Sub(feePerSide.Mul(decimal.NewFromInt(2)))
}

// Decide maps indicators and position to Hold, Buy or Sell.
func (p *Policy) Decide(snap indicator.Snapshot, pos position.State, lastPrice decimal.Decimal) signal.Decision {
	ts := p.now()
	if !snap.Ready() {
		return signal.Decision{Action: signal.Hold, Reason: fmt.Sprintf("indicators unavailable: %v", snap.Unavailable()), Ts: ts}
	}
	if !lastPrice.IsPositive() {
		return signal.Decision{Action: signal.Hold, Reason: "no usable last price", Ts: ts}
	}
	rsi := snap.RSI.Value

	if !pos.Open {
		if rsi < p.params.RSIOversold {
			return signal.Decision{Action: signal.Buy, Reason: fmt.Sprintf("rsi %.2f below %.2f", rsi, p.params.RSIOversold), Ts: ts}
		}
		return signal.Decision{Action: signal.Hold, Reason: fmt.Sprintf("flat, rsi %.2f", rsi), Ts: ts}
	}

	entry := pos.EntryPrice
	net := NetProfit(entry, lastPrice, p.params.FeeRatePerSide)
	if net.LessThan(p.params.MinProfitMargin) {
		return signal.Decision{Action: signal.Hold, Reason: fmt.Sprintf("net profit %s below margin %s", net.StringFixed(6), p.params.MinProfitMargin), Ts: ts}
	}
	if rsi > p.params.RSIOverbought {
		return signal.Decision{Action: signal.Sell, Reason: fmt.Sprintf("rsi %.2f above %.2f", rsi, p.params.RSIOverbought), Ts: ts}
	}
	target := entry.Mul(decimal.NewFromInt(1).Add(p.params.TakeProfitPercent))
	if lastPrice.GreaterThanOrEqual(target) {
		return signal.Decision{Action: signal.Sell, Reason: fmt.Sprintf("take profit %s >= %s", lastPrice, target), Ts: ts}
	}
	if !p.disableATR {
		atr := decimal.NewFromFloat(snap.ATR.Value)
		stop := entry.Sub(p.params.ATRStopMultiplier.Mul(atr))
		if lastPrice.LessThanOrEqual(stop) {
			return signal.Decision{Action: signal.Sell, Reason: fmt.Sprintf("atr stop %s <= %s", lastPrice, stop.StringFixed(8)), Ts: ts}
		}
		upper := entry.Add(p.params.ATRTargetMultiplier.Mul(atr))
		if lastPrice.GreaterThanOrEqual(upper) {
			return signal.Decision{Action: signal.Sell, Reason: fmt.Sprintf("atr target %s >= %s", lastPrice, upper.StringFixed(8)), Ts: ts}
		}
	}
	return signal.Decision{Action: signal.Hold, Reason: fmt.Sprintf("open, net profit %s", net.StringFixed(6)), Ts: ts}
}
