package execution

import (
	"context"
	"sync"
	"time"

	"spotbot-go/internal/fault"
	"spotbot-go/internal/risk"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quantize floors raw to a multiple of StepSize, clamps it to MaxQty and
// rejects anything under MinQty. The result never exceeds raw.
func (f SymbolFilter) Quantize(raw decimal.Decimal) (decimal.Decimal, error) {
	if !raw.IsPositive() {
		return decimal.Zero, fault.Newf(fault.QuantityTooSmall, "quantize", "raw quantity %s", raw)
	}
	qty := f.floor(raw)
	if f.MaxQty.IsPositive() && qty.GreaterThan(f.MaxQty) {
		qty = f.floor(f.MaxQty)
	}
	if !qty.IsPositive() || qty.LessThan(f.MinQty) {
		return decimal.Zero, fault.Newf(fault.QuantityTooSmall, "quantize", "quantity %s below min %s (raw %s, step %s)", qty, f.MinQty, raw, f.StepSize)
	}
	return qty, nil
}

func (f SymbolFilter) floor(v decimal.Decimal) decimal.Decimal {
	if !f.StepSize.IsPositive() {
		return v
	}
	q := v.Div(f.StepSize).Floor().Mul(f.StepSize)
	// Div rounds at DivisionPrecision; step back if that pushed us over.
	for q.GreaterThan(v) {
		q = q.Sub(f.StepSize)
	}
	return q
}

// Sizer computes order quantities from balances and filters.
type Sizer struct {
	venue   Venue
	filters *FilterCache
	limits  risk.Limits
	log     zerolog.Logger
}

// NewSizer builds a sizer reading balances from venue.
func NewSizer(venue Venue, filters *FilterCache, limits risk.Limits, log zerolog.Logger) *Sizer {
	return &Sizer{venue: venue, filters: filters, limits: limits, log: log}
}

// Intent derives the raw order wish. Buy spends the quote balance (capped by
// risk limits) and Sell liquidates the whole base balance. A failed balance
// lookup counts as an empty balance.
func (s *Sizer) Intent(ctx context.Context, inst Instrument, side Side, ref decimal.Decimal) OrderIntent {
	intent := OrderIntent{Symbol: inst.Symbol, Side: side, ReferencePrice: ref}
	switch side {
	case Buy:
		quote := s.balance(ctx, inst.QuoteAsset)
		if ref.IsPositive() {
			intent.RawQuantity = s.limits.CapQuantity(quote.Div(ref), ref)
		}
	case Sell:
		intent.RawQuantity = s.balance(ctx, inst.BaseAsset)
	}
	return intent
}

// Size turns an intent into a compliant request without a client id.
func (s *Sizer) Size(ctx context.Context, intent OrderIntent) (OrderRequest, error) {
	filter, err := s.filters.Get(ctx, intent.Symbol)
	if err != nil {
		return OrderRequest{}, err
	}
	qty, err := filter.Quantize(intent.RawQuantity)
	if err != nil {
		return OrderRequest{}, err
	}
	return OrderRequest{OrderIntent: intent, Quantity: qty}, nil
}

func (s *Sizer) balance(ctx context.Context, asset string) decimal.Decimal {
	bal, err := s.venue.Balance(ctx, asset)
	if err != nil {
		s.log.Warn().Err(err).Str("asset", asset).Msg("balance lookup failed, treating as zero")
		return decimal.Zero
	}
	if bal.IsNegative() {
		return decimal.Zero
	}
	return bal
}

// FilterCache memoizes symbol filters for a TTL.
type FilterCache struct {
	venue Venue
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cachedFilter
}

type cachedFilter struct {
	filter  SymbolFilter
	fetched time.Time
}

// NewFilterCache wraps venue; a non-positive ttl disables caching.
func NewFilterCache(venue Venue, ttl time.Duration) *FilterCache {
	return &FilterCache{venue: venue, ttl: ttl, now: time.Now, entries: make(map[string]cachedFilter)}
}

// Get returns a cached filter or fetches a fresh one.
func (c *FilterCache) Get(ctx context.Context, symbol string) (SymbolFilter, error) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && c.ttl > 0 && c.now().Sub(entry.fetched) < c.ttl {
		return entry.filter, nil
	}
	filter, err := c.venue.SymbolFilter(ctx, symbol)
	if err != nil {
		return SymbolFilter{}, err
	}
	c.mu.Lock()
	c.entries[symbol] = cachedFilter{filter: filter, fetched: c.now()}
	c.mu.Unlock()
	return filter, nil
}

// Invalidate drops a cached filter, e.g. after the venue rejects a quantity.
func (c *FilterCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}
