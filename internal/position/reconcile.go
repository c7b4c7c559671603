package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDust is the base-asset balance below which a holding counts as nothing.
var DefaultDust = decimal.RequireFromString("0.00001")

// Reconciliation explains how the live balance compared with the persisted state.
type Reconciliation struct {
	Persisted State
	Result    State
	Mismatch  bool
}

// Options tunes Reconcile.
type Options struct {
	Dust decimal.Decimal
	// KeepEntry retains a persisted open entry price instead of resetting it to market.
	KeepEntry bool
}

// Reconcile derives the authoritative state from the live base balance. A
// balance above dust forces Open at marketPrice, since the real entry price
// cannot be recovered from a balance; anything else forces Flat.
func Reconcile(persisted State, baseBalance, marketPrice decimal.Decimal, opts Options, at time.Time) (Reconciliation, error) {
	dust := opts.Dust
	if dust.IsZero() {
		dust = DefaultDust
	}
	var result State
	if baseBalance.GreaterThan(dust) {
		opened, err := Opened(marketPrice)
		if err != nil {
			return Reconciliation{Persisted: persisted, Result: persisted}, err
		}
		result = opened
		if opts.KeepEntry && persisted.Open && persisted.Valid() {
			result.EntryPrice = persisted.EntryPrice
		}
	} else {
		result = Flat()
	}
	result.UpdatedAt = at
	return Reconciliation{
		Persisted: persisted,
		Result:    result,
		Mismatch:  persisted.Open != result.Open,
	}, nil
}
