package execution

import (
	"context"
	"fmt"
	"time"

	"spotbot-go/internal/fault"
	"spotbot-go/internal/metrics"
	"spotbot-go/internal/position"
	"spotbot-go/internal/risk"
	"spotbot-go/internal/signal"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config tunes sizing.
type Config struct {
	Limits    risk.Limits
	FilterTTL time.Duration
}

// Option customises an Executor.
type Option func(*Executor)

// WithIDGenerator overrides client order id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// Result describes the position after an execution attempt.
type Result struct {
	State  position.State
	Record *TradeRecord
	Filled bool
}

// Executor sizes and submits orders, then applies confirmed fills to the
// position, the state store and the journal in that order.
type Executor struct {
	log     zerolog.Logger
	venue   Venue
	filters *FilterCache
	sizer   *Sizer
	journal Journal
	states  StateSaver
	guard   Guard
	newID   func() string
}

// NewExecutor wires an executor to its venue and persistence.
func NewExecutor(log zerolog.Logger, venue Venue, journal Journal, states StateSaver, cfg Config, opts ...Option) *Executor {
	filters := NewFilterCache(venue, cfg.FilterTTL)
	e := &Executor{
		log:     log,
		venue:   venue,
		filters: filters,
		sizer:   NewSizer(venue, filters, cfg.Limits, log),
		journal: journal,
		states:  states,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasPending reports whether an order with unknown outcome awaits lookup.
func (e *Executor) HasPending() bool {
	_, ok := e.guard.Pending()
	return ok
}

// Resolve looks up a pending order, applying its fill if it executed.
func (e *Executor) Resolve(ctx context.Context, pos position.State) (Result, error) {
	if err := e.guard.Acquire(); err != nil {
		return Result{State: pos}, err
	}
	defer e.guard.Release()
	res, _, err := e.resolvePending(ctx, pos)
	return res, err
}

// Execute acts on a Buy or Sell decision. Position state, the state store and
// the journal are only touched once the venue confirms a fill.
func (e *Executor) Execute(ctx context.Context, inst Instrument, d signal.Decision, pos position.State, ref decimal.Decimal) (Result, error) {
	side, ok := SideFor(d.Action)
	if !ok {
		return Result{State: pos}, nil
	}
	if err := e.guard.Acquire(); err != nil {
		return Result{State: pos}, err
	}
	defer e.guard.Release()

	res, resolved, err := e.resolvePending(ctx, pos)
	if err != nil || resolved {
		// the decision was made against a position that has since moved
		return res, err
	}
	pos = res.State

	if (side == Buy && pos.Open) || (side == Sell && !pos.Open) {
		return Result{State: pos}, fmt.Errorf("%s while %s: %w", side, pos, position.ErrIllegalTransition)
	}

	intent := e.sizer.Intent(ctx, inst, side, ref)
	req, err := e.sizer.Size(ctx, intent)
	if err != nil {
		e.reject(err, intent.Symbol, side)
		return Result{State: pos}, err
	}
	req.ClientOrderID = e.newID()

	metrics.OrdersTotal.WithLabelValues(req.Symbol, string(req.Side)).Inc()
	e.log.Info().Str("sym", req.Symbol).Str("side", string(req.Side)).Stringer("qty", req.Quantity).Stringer("px", req.ReferencePrice).Str("client_id", req.ClientOrderID).Str("reason", d.Reason).Msg("submit order")

	fill, err := e.venue.SubmitOrder(ctx, req)
	if err != nil {
		switch fault.KindOf(err) {
		case fault.ExchangeRejected:
			e.filters.Invalidate(req.Symbol)
		case fault.QuantityTooSmall, fault.NotFound, fault.Config:
		default:
			e.guard.MarkPending(req)
			e.log.Warn().Str("client_id", req.ClientOrderID).Msg("order outcome unknown, will look it up next cycle")
		}
		e.reject(err, req.Symbol, side)
		return Result{State: pos}, err
	}
	return e.apply(ctx, req, fill, pos)
}

func (e *Executor) resolvePending(ctx context.Context, pos position.State) (Result, bool, error) {
	req, ok := e.guard.Pending()
	if !ok {
		return Result{State: pos}, false, nil
	}
	fill, err := e.venue.QueryOrder(ctx, req.Symbol, req.ClientOrderID)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			e.log.Info().Str("client_id", req.ClientOrderID).Msg("pending order never reached the venue")
			e.guard.ClearPending()
			return Result{State: pos}, false, nil
		}
		return Result{State: pos}, false, err
	}
	if fill.Status == StatusNew {
		return Result{State: pos}, false, fault.Newf(fault.NetworkFailure, "resolve pending", "order %s still %s", req.ClientOrderID, fill.Status)
	}
	e.guard.ClearPending()
	if !fill.Executed() {
		e.log.Info().Str("client_id", req.ClientOrderID).Str("status", fill.Status).Msg("pending order did not execute")
		return Result{State: pos}, false, nil
	}
	res, err := e.apply(ctx, req, fill, pos)
	return res, true, err
}

func (e *Executor) apply(ctx context.Context, req OrderRequest, fill Fill, pos position.State) (Result, error) {
	if !fill.Executed() {
		err := fault.Newf(fault.ExchangeRejected, "submit order", "order %s status %s executed %s", req.ClientOrderID, fill.Status, fill.ExecutedQty)
		e.reject(err, req.Symbol, req.Side)
		return Result{State: pos}, err
	}
	rec := RecordFromFill(req, fill)

	var next position.State
	var err error
	switch rec.Side {
	case Buy:
		next, err = pos.OnBuyFill(rec.FillPrice, rec.Timestamp)
	case Sell:
		next, err = pos.OnSellFill(rec.Timestamp)
	default:
		err = fmt.Errorf("unknown side %q", rec.Side)
	}
	if err != nil {
		return Result{State: pos}, fault.New(fault.ReconciliationMismatch, "apply fill", err)
	}

	e.log.Info().Str("sym", rec.Symbol).Str("side", string(rec.Side)).Stringer("qty", rec.Quantity).Stringer("px", rec.FillPrice).Stringer("fee", rec.Fee).Str("status", rec.Status).Msg("order filled")
	metrics.SetPosition(next.Open)

	res := Result{State: next, Record: &rec, Filled: true}
	var persistErr error
	if err := e.states.Save(next); err != nil {
		persistErr = fault.New(fault.Persistence, "save state", err)
		e.log.Error().Err(err).Msg("position state not saved")
	}
	if err := e.journal.Append(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("client_id", rec.ClientOrderID).Msg("trade record not written")
		if persistErr == nil {
			persistErr = fault.New(fault.Persistence, "append trade", err)
		}
	}
	return res, persistErr
}

func (e *Executor) reject(err error, symbol string, side Side) {
	kind := fault.KindOf(err)
	metrics.OrderRejections.WithLabelValues(string(kind)).Inc()
	e.log.Warn().Err(err).Str("sym", symbol).Str("side", string(side)).Str("kind", string(kind)).Msg("order not placed")
}
