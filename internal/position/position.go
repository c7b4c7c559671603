// Package position holds the single-pair position state machine.
package position

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrIllegalTransition is returned for a buy while open or a sell while flat.
var ErrIllegalTransition = errors.New("illegal position transition")

// ErrInvalidPrice is returned when an open is attempted at a non-positive price.
var ErrInvalidPrice = errors.New("entry price must be positive")

// State is the persisted position record. The zero value is Flat.
type State struct {
	Open       bool            `json:"open"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	UpdatedAt  time.Time       `json:"updated_at,omitempty"`
}

// Flat returns the no-holding state.
func Flat() State { return State{EntryPrice: decimal.Zero} }

// Opened returns an open state at the given entry price.
func Opened(entry decimal.Decimal) (State, error) {
	if !entry.IsPositive() {
		return State{}, ErrInvalidPrice
	}
	return State{Open: true, EntryPrice: entry}, nil
}

// Valid checks the invariant: flat positions carry no entry price, open ones a positive one.
func (s State) Valid() bool {
	if s.Open {
		return s.EntryPrice.IsPositive()
	}
	return s.EntryPrice.IsZero()
}

// String renders the state for logs.
func (s State) String() string {
	if s.Open {
		return "OPEN@" + s.EntryPrice.String()
	}
	return "FLAT"
}

// Equal compares open flag and entry price, ignoring timestamps.
func (s State) Equal(o State) bool {
	return s.Open == o.Open && s.EntryPrice.Equal(o.EntryPrice)
}

// OnBuyFill moves Flat to Open at the confirmed fill price.
func (s State) OnBuyFill(fillPrice decimal.Decimal, at time.Time) (State, error) {
	if s.Open {
		return s, ErrIllegalTransition
	}
	next, err := Opened(fillPrice)
	if err != nil {
		return s, err
	}
	next.UpdatedAt = at
	return next, nil
}

// OnSellFill moves Open to Flat.
func (s State) OnSellFill(at time.Time) (State, error) {
	if !s.Open {
		return s, ErrIllegalTransition
	}
	next := Flat()
	next.UpdatedAt = at
	return next, nil
}
