// Package engine drives the trading cycle: candles in, indicators, decision,
// order, persisted position.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotbot-go/internal/execution"
	"spotbot-go/internal/fault"
	"spotbot-go/internal/indicator"
	"spotbot-go/internal/metrics"
	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"
	"spotbot-go/internal/strategy"
)

// ErrCycleBusy is returned when a cycle is requested while another is running.
var ErrCycleBusy = errors.New("previous cycle still running")

// CandleSource supplies ordered candle series.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) (signal.Series, error)
}

// PriceSource supplies the latest traded price.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StateStore persists the position between runs.
type StateStore interface {
	Load() (position.State, error)
	Save(st position.State) error
}

// Outcome labels what a cycle ended with.
type Outcome string

const (
	OutcomeHold     Outcome = "hold"
	OutcomeBuy      Outcome = "buy"
	OutcomeSell     Outcome = "sell"
	OutcomeResolved Outcome = "resolved"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
)

// Config tunes the runner.
type Config struct {
	Instrument   execution.Instrument
	Interval     string
	CandleLimit  int
	Tick         time.Duration
	CallTimeout  time.Duration
	CycleTimeout time.Duration
	Indicators   indicator.Params
	Reconcile    position.Options
}

// Deps are the collaborators a Runner needs.
type Deps struct {
	Candles  CandleSource
	Prices   PriceSource
	Venue    execution.Venue
	States   StateStore
	Executor *execution.Executor
	Strategy strategy.Strategy
	// OnPrice, when set, observes each cycle's reference price.
	OnPrice func(decimal.Decimal)
}

// Runner owns the position and runs cycles one at a time.
type Runner struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	busy atomic.Bool

	mu  sync.RWMutex
	pos position.State
}

// NewRunner wires a runner; zero config values take defaults.
func NewRunner(cfg Config, deps Deps, log zerolog.Logger) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = 3 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 4 * cfg.CallTimeout
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 100
	}
	if cfg.Interval == "" {
		cfg.Interval = "5m"
	}
	if need := cfg.Indicators.MinLookback(); cfg.CandleLimit < need {
		cfg.CandleLimit = need
	}
	return &Runner{cfg: cfg, deps: deps, log: log, pos: position.Flat()}
}

// Position returns the current position.
func (r *Runner) Position() position.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pos
}

func (r *Runner) setPosition(st position.State) {
	r.mu.Lock()
	r.pos = st
	r.mu.Unlock()
	metrics.SetPosition(st.Open)
}

// Restore seeds the position without consulting the venue.
func (r *Runner) Restore(st position.State) { r.setPosition(st) }

// Start loads the persisted position and reconciles it against the venue.
func (r *Runner) Start(ctx context.Context) error {
	st, err := r.deps.States.Load()
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(fault.Persistence)).Msg("persisted state unreadable, starting from flat")
		st = position.Flat()
	}
	r.setPosition(st)
	r.log.Info().Str("position", st.String()).Msg("loaded position")

	if _, err := r.Reconcile(ctx); err != nil {
		r.log.Warn().Err(err).Str("kind", string(fault.KindOf(err))).Msg("reconciliation failed, keeping persisted state")
	}
	return nil
}

// Reconcile sets the position from the live base balance. Lookup failures
// keep the current position.
func (r *Runner) Reconcile(ctx context.Context) (position.Reconciliation, error) {
	current := r.Position()
	inst := r.cfg.Instrument

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	balance, err := r.deps.Venue.Balance(callCtx, inst.BaseAsset)
	cancel()
	if err != nil {
		return position.Reconciliation{Persisted: current, Result: current}, err
	}

	callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	price, err := r.deps.Prices.LastPrice(callCtx, inst.Symbol)
	cancel()
	if err != nil {
		return position.Reconciliation{Persisted: current, Result: current}, err
	}

	rec, err := position.Reconcile(current, balance, price, r.cfg.Reconcile, time.Now().UTC())
	if err != nil {
		return rec, fault.New(fault.DataInsufficient, "reconcile", err)
	}
	if rec.Mismatch {
		r.log.Warn().Str("kind", string(fault.ReconciliationMismatch)).Str("persisted", current.String()).
			Str("live", rec.Result.String()).Stringer("balance", balance).Msg("persisted position disagrees with balance, using balance")
	}
	r.setPosition(rec.Result)
	if err := r.deps.States.Save(rec.Result); err != nil {
		return rec, fault.New(fault.Persistence, "save reconciled state", err)
	}
	r.log.Info().Str("position", rec.Result.String()).Stringer("balance", balance).Msg("reconciled position")
	return rec, nil
}

// Run starts the runner and cycles on every tick until ctx is canceled. A tick
// that arrives while a cycle is still running is skipped.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	r.log.Info().Str("sym", r.cfg.Instrument.Symbol).Dur("tick", r.cfg.Tick).Msg("runner started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("runner stopping")
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = r.RunCycle(ctx)
			}()
		}
	}
}

// RunCycle runs one cycle and logs its failure, if any.
func (r *Runner) RunCycle(ctx context.Context) (Outcome, error) {
	outcome, err := r.Cycle(ctx)
	metrics.CyclesTotal.WithLabelValues(string(outcome)).Inc()
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleBusy):
		r.log.Debug().Msg("tick skipped, previous cycle still running")
	default:
		kind := fault.KindOf(err)
		r.log.Warn().Err(err).Str("kind", string(kind)).Bool("transient", kind.Transient()).Msg("cycle aborted")
	}
	return outcome, err
}

// Cycle runs fetch, compute, decide and execute once.
func (r *Runner) Cycle(ctx context.Context) (Outcome, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return OutcomeSkipped, ErrCycleBusy
	}
	defer r.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()
	inst := r.cfg.Instrument

	if r.deps.Executor.HasPending() {
		res, err := r.deps.Executor.Resolve(ctx, r.Position())
		if res.Filled {
			r.setPosition(res.State)
		}
		if err != nil {
			return OutcomeError, err
		}
		if res.Filled {
			return OutcomeResolved, nil
		}
	}

	callCtx, callCancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	series, err := r.deps.Candles.Candles(callCtx, inst.Symbol, r.cfg.Interval, r.cfg.CandleLimit)
	callCancel()
	if err != nil {
		if fault.KindOf(err) == fault.Unknown {
			err = fault.New(fault.NetworkFailure, "fetch candles", err)
		}
		return OutcomeError, err
	}
	if need := r.cfg.Indicators.MinLookback(); len(series) < need {
		return OutcomeError, fault.Newf(fault.DataInsufficient, "compute indicators", "have %d candles, need %d", len(series), need)
	}

	snap := indicator.Compute(series, r.cfg.Indicators)
	if !snap.Ready() {
		return OutcomeError, fault.Newf(fault.IndicatorInvalid, "compute indicators", "unavailable: %v", snap.Unavailable())
	}
	observe(snap)

	last, _ := series.Last()
	price := decimal.NewFromFloat(last.Close)
	if r.deps.OnPrice != nil {
		r.deps.OnPrice(price)
	}

	pos := r.Position()
	decision := r.deps.Strategy.Decide(snap, pos, price)
	r.log.Info().Str("sym", inst.Symbol).Str("action", decision.Action.String()).Str("reason", decision.Reason).
		Float64("rsi", snap.RSI.Value).Float64("atr", snap.ATR.Value).Stringer("px", price).Str("position", pos.String()).Msg("decision")

	var outcome Outcome
	switch decision.Action {
	case signal.Buy:
		outcome = OutcomeBuy
	case signal.Sell:
		outcome = OutcomeSell
	default:
		return OutcomeHold, nil
	}

	res, err := r.deps.Executor.Execute(ctx, inst, decision, pos, price)
	if res.Filled {
		r.setPosition(res.State)
	}
	if err != nil {
		return OutcomeError, err
	}
	return outcome, nil
}

func observe(snap indicator.Snapshot) {
	metrics.IndicatorValue.WithLabelValues("rsi").Set(snap.RSI.Value)
	metrics.IndicatorValue.WithLabelValues("atr").Set(snap.ATR.Value)
	metrics.IndicatorValue.WithLabelValues("bollinger_upper").Set(snap.Bollinger.Upper)
	metrics.IndicatorValue.WithLabelValues("bollinger_lower").Set(snap.Bollinger.Lower)
	metrics.IndicatorValue.WithLabelValues("macd_line").Set(snap.MACD.Line)
	metrics.IndicatorValue.WithLabelValues("macd_signal").Set(snap.MACD.Signal)
}
