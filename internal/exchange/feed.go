// Package exchange hosts the market gateway: the Binance spot adapter, its
// kline stream, and a synthetic candle source for offline runs.
package exchange

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotbot-go/internal/fault"
	"spotbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic candles (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance polls Binance REST klines.
	ProviderBinance = "binance"
	// ProviderBinanceStream serves Binance klines from a websocket-fed cache.
	ProviderBinanceStream = "binance_stream"
)

// NormalizeProvider maps config spellings onto a provider constant.
func NormalizeProvider(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case ProviderBinance, "rest":
		return ProviderBinance
	case ProviderBinanceStream, "stream", "websocket", "ws":
		return ProviderBinanceStream
	default:
		return ProviderStub
	}
}

// Stub generates a deterministic oscillating price path. Each Candles call
// advances the path by one candle.
type Stub struct {
	mu        sync.Mutex
	base      float64
	amplitude float64
	period    float64
	step      time.Duration
	origin    time.Time
	cursor    int
	last      int
}

// StubOption configures a Stub.
type StubOption func(*Stub)

// WithStubShape overrides base price, relative amplitude and cycle length in candles.
func WithStubShape(base, amplitude, period float64) StubOption {
	return func(s *Stub) {
		if base > 0 {
			s.base = base
		}
		if amplitude > 0 {
			s.amplitude = amplitude
		}
		if period > 0 {
			s.period = period
		}
	}
}

// NewStub builds a synthetic candle source.
func NewStub(opts ...StubOption) *Stub {
	s := &Stub{
		base:      100,
		amplitude: 0.08,
		period:    40,
		step:      time.Minute,
		origin:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stub) price(i int) float64 {
	return s.base * (1 + s.amplitude*math.Sin(2*math.Pi*float64(i)/s.period))
}

func (s *Stub) candle(i int) signal.Candle {
	open := s.price(i - 1)
	closePx := s.price(i)
	high := math.Max(open, closePx) * 1.001
	low := math.Min(open, closePx) * 0.999
	start := s.origin.Add(time.Duration(i) * s.step)
	return signal.Candle{OpenTime: start, Open: open, High: high, Low: low, Close: closePx, Volume: 1, CloseTime: start.Add(s.step - time.Millisecond)}
}

// Candles returns the latest limit candles and advances the path.
func (s *Stub) Candles(ctx context.Context, symbol, interval string, limit int) (signal.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.NetworkFailure, "fetch candles", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	end := s.cursor + limit
	out := make(signal.Series, 0, limit)
	for i := s.cursor; i < end; i++ {
		out = append(out, s.candle(i))
	}
	s.last = end - 1
	return out, nil
}

// LastPrice returns the close of the most recently served candle.
func (s *Stub) LastPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decimal.NewFromFloat(s.price(s.last)), nil
}
