package strategy

import (
	"strings"
	"testing"
	"time"

	"spotbot-go/internal/indicator"
	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func readySnapshot(rsi, atr float64) indicator.Snapshot {
	return indicator.Snapshot{
		RSI:       indicator.Reading{Value: rsi, Valid: true},
		ATR:       indicator.Reading{Value: atr, Valid: true},
		Bollinger: indicator.Bands{Upper: 110, Lower: 90, Valid: true},
		MACD:      indicator.MACDReading{Line: 0.1, Signal: 0.1, Valid: true},
	}
}

func openAt(t *testing.T, px string) position.State {
	t.Helper()
	st, err := position.Opened(dec(px))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestHoldWhenSnapshotNotReady(t *testing.T) {
	p := NewPolicy(DefaultParams())
	snap := readySnapshot(10, 1)
	snap.MACD.Valid = false
	got := p.Decide(snap, position.Flat(), dec("100"))
	if got.Action != signal.Hold {
		t.Fatalf("expected hold, got %s", got.Action)
	}
	if !strings.Contains(got.Reason, "macd") {
		t.Fatalf("reason should name the missing indicator: %q", got.Reason)
	}
}

func TestBuyWhenFlatAndOversold(t *testing.T) {
	p := NewPolicy(DefaultParams())
	if got := p.Decide(readySnapshot(29.9, 1), position.Flat(), dec("100")); got.Action != signal.Buy {
		t.Fatalf("expected buy, got %s (%s)", got.Action, got.Reason)
	}
	if got := p.Decide(readySnapshot(30, 1), position.Flat(), dec("100")); got.Action != signal.Hold {
		t.Fatalf("expected hold at threshold, got %s", got.Action)
	}
}

func TestNetProfitBoundary(t *testing.T) {
	fee := dec("0.001")
	if got := NetProfit(dec("100"), dec("100.5"), fee); !got.Equal(dec("0.003")) {
		t.Fatalf("net profit at 100.5 = %s", got)
	}
	if got := NetProfit(dec("100"), dec("100.05"), fee); !got.Equal(dec("-0.0015")) {
		t.Fatalf("net profit at 100.05 = %s", got)
	}

	p := NewPolicy(DefaultParams())
	pos := openAt(t, "100")
	if got := p.Decide(readySnapshot(80, 1), pos, dec("100.5")); got.Action != signal.Sell {
		t.Fatalf("expected sell at 100.5 with rsi 80, got %s", got.Action)
	}
	if got := p.Decide(readySnapshot(99, 1), pos, dec("100.05")); got.Action != signal.Hold {
		t.Fatalf("expected hold at 100.05 regardless of rsi, got %s", got.Action)
	}
}

func TestNoSellBelowMarginEvenOnATRStop(t *testing.T) {
	p := NewPolicy(DefaultParams())
	got := p.Decide(readySnapshot(50, 1), openAt(t, "100"), dec("90"))
	if got.Action != signal.Hold {
		t.Fatalf("capital preservation should block the stop, got %s", got.Action)
	}

	params := DefaultParams()
	params.MinProfitMargin = dec("-0.2")
	p = NewPolicy(params)
	got = p.Decide(readySnapshot(50, 1), openAt(t, "100"), dec("97"))
	if got.Action != signal.Sell || !strings.Contains(got.Reason, "atr stop") {
		t.Fatalf("expected atr stop sell with a loose margin, got %s (%s)", got.Action, got.Reason)
	}
}

func TestATRTarget(t *testing.T) {
	p := NewPolicy(DefaultParams())
	got := p.Decide(readySnapshot(50, 1), openAt(t, "100"), dec("103"))
	if got.Action != signal.Sell || !strings.Contains(got.Reason, "atr target") {
		t.Fatalf("expected atr target sell, got %s (%s)", got.Action, got.Reason)
	}
	rsiOnly := Build("rsi_only", DefaultParams())
	if got := rsiOnly.Decide(readySnapshot(50, 1), openAt(t, "100"), dec("103")); got.Action != signal.Hold {
		t.Fatalf("rsi_only should ignore atr, got %s", got.Action)
	}
}

func TestTakeProfitOnSteadyRise(t *testing.T) {
	p := NewPolicy(DefaultParams())
	pos := openAt(t, "100")
	snap := readySnapshot(55, 6)
	price := dec("100")
	step := dec("0.5")
	var sold decimal.Decimal
	for price.LessThanOrEqual(dec("115.5")) {
		d := p.Decide(snap, pos, price)
		if d.Action == signal.Sell {
			if !strings.Contains(d.Reason, "take profit") {
				t.Fatalf("expected take profit branch, got %q", d.Reason)
			}
			sold = price
			break
		}
		price = price.Add(step)
	}
	if !sold.Equal(dec("115")) {
		t.Fatalf("expected sell at 115, got %s", sold)
	}
}

func TestBuyAfterOnePercentDecline(t *testing.T) {
	series := make(signal.Series, 0, 40)
	px := 100.0
	start := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		series = append(series, signal.Candle{OpenTime: start, Open: px, High: px * 1.001, Low: px * 0.999, Close: px})
	}
	for i := 0; i < 25; i++ {
		prev := px
		px *= 0.99
		series = append(series, signal.Candle{Open: prev, High: prev, Low: px, Close: px})
	}
	snap := indicator.Compute(series, indicator.DefaultParams())
	if !snap.Ready() {
		t.Fatalf("snapshot not ready: %v", snap.Unavailable())
	}
	p := NewPolicy(DefaultParams())
	got := p.Decide(snap, position.Flat(), decimal.NewFromFloat(px))
	if got.Action != signal.Buy {
		t.Fatalf("expected buy after decline, rsi=%.2f got %s", snap.RSI.Value, got.Action)
	}
}

func TestBuildDefaultsToPolicy(t *testing.T) {
	if got := Build("", Params{}).Name(); got != "RSIATR" {
		t.Fatalf("unexpected default strategy %s", got)
	}
	if got := Build("RSI_ONLY", Params{}).Name(); got != "RSIOnly" {
		t.Fatalf("unexpected strategy %s", got)
	}
}
