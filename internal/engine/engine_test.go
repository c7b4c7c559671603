package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotbot-go/internal/execution"
	"spotbot-go/internal/fault"
	"spotbot-go/internal/indicator"
	"spotbot-go/internal/paper"
	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"
	"spotbot-go/internal/store"
	"spotbot-go/internal/strategy"
)

var inst = execution.Instrument{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"}

type scriptedCandles struct {
	mu      sync.Mutex
	series  signal.Series
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (s *scriptedCandles) Candles(ctx context.Context, _ string, _ string, _ int) (signal.Series, error) {
	if s.entered != nil {
		close(s.entered)
		s.entered = nil
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series, s.err
}

// decliningSeries is a short flat lead-in followed by 25 closes falling 1% each.
func decliningSeries() signal.Series {
	out := signal.Series{}
	px := 100.0
	for i := 0; i < 10; i++ {
		out = append(out, signal.Candle{Open: px, High: px * 1.001, Low: px * 0.999, Close: px})
	}
	for i := 0; i < 25; i++ {
		prev := px
		px *= 0.99
		out = append(out, signal.Candle{Open: prev, High: prev, Low: px, Close: px})
	}
	return out
}

type harness struct {
	runner  *Runner
	account *paper.Account
	states  *store.StateFile
	journal *store.JSONLJournal
	candles *scriptedCandles
	dir     string
}

func newHarness(t *testing.T, series signal.Series) *harness {
	t.Helper()
	dir := t.TempDir()
	account := paper.NewAccount(paper.Config{
		Instrument:   inst,
		QuoteBalance: decimal.NewFromInt(1000),
		FeeRate:      decimal.RequireFromString("0.001"),
		Filter: execution.SymbolFilter{
			MinQty:   decimal.RequireFromString("0.00001"),
			MaxQty:   decimal.NewFromInt(9000),
			StepSize: decimal.RequireFromString("0.00001"),
		},
	})
	states := store.NewStateFile(filepath.Join(dir, "state.json"))
	journal, err := store.NewJSONLJournal(filepath.Join(dir, "trades.jsonl"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	log := zerolog.Nop()
	exec := execution.NewExecutor(log, account, journal, states, execution.Config{FilterTTL: time.Minute})
	candles := &scriptedCandles{series: series}
	runner := NewRunner(Config{
		Instrument:  inst,
		Interval:    "5m",
		Tick:        10 * time.Millisecond,
		CallTimeout: time.Second,
		Indicators:  indicator.DefaultParams(),
	}, Deps{
		Candles:  candles,
		Prices:   account,
		Venue:    account,
		States:   states,
		Executor: exec,
		Strategy: strategy.NewPolicy(strategy.DefaultParams()),
		OnPrice:  account.Mark,
	}, log)
	return &harness{runner: runner, account: account, states: states, journal: journal, candles: candles, dir: dir}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestCycleBuysOnDecline(t *testing.T) {
	h := newHarness(t, decliningSeries())
	ctx := context.Background()

	outcome, err := h.runner.Cycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if outcome != OutcomeBuy {
		t.Fatalf("expected buy, got %s", outcome)
	}
	pos := h.runner.Position()
	if !pos.Open {
		t.Fatalf("expected open position")
	}
	persisted, err := h.states.Load()
	if err != nil || !persisted.Equal(pos) {
		t.Fatalf("persisted %s does not match %s (%v)", persisted, pos, err)
	}
	recs, _ := h.journal.Recent(ctx, 10)
	if len(recs) != 1 || recs[0].Side != execution.Buy {
		t.Fatalf("expected one buy record, got %+v", recs)
	}
	if !recs[0].FillPrice.Equal(pos.EntryPrice) {
		t.Fatalf("entry %s should equal fill %s", pos.EntryPrice, recs[0].FillPrice)
	}

	// still oversold but already open: no second buy
	outcome, err = h.runner.Cycle(ctx)
	if err != nil || outcome != OutcomeHold {
		t.Fatalf("expected hold while open, got %s %v", outcome, err)
	}
}

func TestCycleNeedsEnoughCandles(t *testing.T) {
	h := newHarness(t, decliningSeries()[:20])
	_, err := h.runner.Cycle(context.Background())
	if !fault.IsKind(err, fault.DataInsufficient) {
		t.Fatalf("expected data insufficient, got %v", err)
	}
	if h.runner.Position().Open {
		t.Fatalf("position must not change")
	}
}

func TestCycleRejectsInvalidIndicators(t *testing.T) {
	series := decliningSeries()
	series[len(series)-1].Close = math.NaN()
	h := newHarness(t, series)
	_, err := h.runner.Cycle(context.Background())
	if !fault.IsKind(err, fault.IndicatorInvalid) {
		t.Fatalf("expected indicator invalid, got %v", err)
	}
}

func TestCycleClassifiesFetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.candles.err = errors.New("connection reset")
	outcome, err := h.runner.RunCycle(context.Background())
	if outcome != OutcomeError || !fault.IsKind(err, fault.NetworkFailure) {
		t.Fatalf("expected network failure, got %s %v", outcome, err)
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	h := newHarness(t, decliningSeries())
	h.candles.block = make(chan struct{})
	entered := make(chan struct{})
	h.candles.entered = entered

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Cycle(context.Background())
		done <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first cycle never started")
	}
	outcome, err := h.runner.Cycle(context.Background())
	if !errors.Is(err, ErrCycleBusy) || outcome != OutcomeSkipped {
		t.Fatalf("expected busy skip, got %s %v", outcome, err)
	}
	close(h.candles.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
}

func TestFailedSubmitLeavesStateAndJournalUntouched(t *testing.T) {
	for _, kind := range []fault.Kind{fault.ExchangeRejected, fault.NetworkFailure} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, decliningSeries())
			ctx := context.Background()
			statePath := filepath.Join(h.dir, "state.json")
			journalPath := filepath.Join(h.dir, "trades.jsonl")

			// seed both files so the comparison covers real content
			if err := h.states.Save(position.Flat()); err != nil {
				t.Fatalf("seed state: %v", err)
			}
			seed := execution.TradeRecord{Symbol: "BTCUSDT", Side: execution.Sell, Status: execution.StatusFilled, Timestamp: time.Unix(1, 0).UTC()}
			if err := h.journal.Append(ctx, seed); err != nil {
				t.Fatalf("seed journal: %v", err)
			}
			stateBefore := readFile(t, statePath)
			journalBefore := readFile(t, journalPath)

			h.account.FailNext(fault.New(kind, "submit order", errors.New("simulated")))
			_, err := h.runner.Cycle(ctx)
			if !fault.IsKind(err, kind) {
				t.Fatalf("expected %s, got %v", kind, err)
			}
			if !bytes.Equal(stateBefore, readFile(t, statePath)) {
				t.Fatalf("state file changed after failed submit")
			}
			if !bytes.Equal(journalBefore, readFile(t, journalPath)) {
				t.Fatalf("journal changed after failed submit")
			}
			if h.runner.Position().Open {
				t.Fatalf("position must stay flat")
			}
		})
	}
}

func TestStartReconcilesAgainstBalance(t *testing.T) {
	h := newHarness(t, decliningSeries())
	open, _ := position.Opened(decimal.NewFromInt(50))
	if err := h.states.Save(open); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	h.account.Mark(decimal.NewFromInt(60))

	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.runner.Position().Open {
		t.Fatalf("zero balance should force flat")
	}
	persisted, _ := h.states.Load()
	if persisted.Open {
		t.Fatalf("reconciled state should be persisted")
	}
}

type failingBalance struct{ *paper.Account }

func (failingBalance) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, fault.New(fault.NetworkFailure, "balance", errors.New("timeout"))
}

func TestReconcileFailureKeepsPersisted(t *testing.T) {
	h := newHarness(t, decliningSeries())
	open, _ := position.Opened(decimal.NewFromInt(50))
	if err := h.states.Save(open); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	h.runner.deps.Venue = failingBalance{h.account}

	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.runner.Position(); !got.Equal(open) {
		t.Fatalf("expected persisted %s, got %s", open, got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, decliningSeries())
	h.account.Mark(decimal.NewFromInt(100))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !h.runner.Position().Open {
		t.Fatalf("expected the loop to have bought on the decline")
	}
}
