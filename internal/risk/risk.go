// Package risk holds per-trade exposure limits.
package risk

import "github.com/shopspring/decimal"

// Limits caps how much quote currency a single buy may commit.
// A zero MaxNotionalPerTrade means no cap.
type Limits struct {
	MaxNotionalPerTrade decimal.Decimal
}

// Allow reports whether a notional is within the per-trade cap.
func (l Limits) Allow(notional decimal.Decimal) bool {
	if !l.MaxNotionalPerTrade.IsPositive() {
		return true
	}
	return notional.LessThanOrEqual(l.MaxNotionalPerTrade)
}

// CapQuantity lowers a buy quantity so its notional at price stays within the cap.
func (l Limits) CapQuantity(qty, price decimal.Decimal) decimal.Decimal {
	if !l.MaxNotionalPerTrade.IsPositive() || !price.IsPositive() {
		return qty
	}
	limit := l.MaxNotionalPerTrade.Div(price)
	if qty.GreaterThan(limit) {
		return limit
	}
	return qty
}
