// Package fault classifies the ways a trading cycle can fail so callers can tell
// transient conditions apart from configuration problems.
package fault

import (
	"errors"
	"fmt"
)

// Kind enumerates failure categories surfaced by a cycle.
type Kind string

const (
	Unknown                Kind = "unknown"
	DataInsufficient       Kind = "data_insufficient"
	IndicatorInvalid       Kind = "indicator_invalid"
	NetworkFailure         Kind = "network_failure"
	ExchangeRejected       Kind = "exchange_rejected"
	QuantityTooSmall       Kind = "quantity_too_small"
	ReconciliationMismatch Kind = "reconciliation_mismatch"
	NotFound               Kind = "not_found"
	Persistence            Kind = "persistence"
	Config                 Kind = "config"
)

// Transient reports whether the next tick may succeed without operator action.
func (k Kind) Transient() bool {
	switch k {
	case Config, Persistence:
		return false
	default:
		return true
	}
}

// Error wraps a cause with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, fault.E(fault.NetworkFailure)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// E returns a bare kind marker usable as an errors.Is target.
func E(kind Kind) error { return &Error{Kind: kind} }

// KindOf extracts the outermost Kind in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsKind reports whether any error in the chain carries kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, E(kind))
}
