// Package paper simulates a spot venue so the bot can run without real funds.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"spotbot-go/internal/execution"
	"spotbot-go/internal/fault"

	"github.com/shopspring/decimal"
)

// Config seeds a paper account.
type Config struct {
	Instrument   execution.Instrument
	QuoteBalance decimal.Decimal
	BaseBalance  decimal.Decimal
	FeeRate      decimal.Decimal
	Filter       execution.SymbolFilter
}

// Account tracks virtual balances for one instrument and fills market orders
// at the request's reference price, or the last marked price.
type Account struct {
	mu          sync.Mutex
	inst        execution.Instrument
	filter      execution.SymbolFilter
	feeRate     decimal.Decimal
	startQuote  decimal.Decimal
	quote       decimal.Decimal
	base        decimal.Decimal
	avgCost     decimal.Decimal
	realizedPnL decimal.Decimal
	mark        decimal.Decimal
	orders      map[string]execution.Fill
	nextID      int64
	failNext    error
	now         func() time.Time
}

// Snapshot represents a thread-safe view of the account state marked at the last price.
type Snapshot struct {
	Quote       decimal.Decimal
	Base        decimal.Decimal
	AvgCost     decimal.Decimal
	RealizedPnL decimal.Decimal
	Equity      decimal.Decimal
	Mark        decimal.Decimal
}

// NewAccount constructs an account populated with the configured balances.
func NewAccount(cfg Config) *Account {
	return &Account{
		inst:       cfg.Instrument,
		filter:     cfg.Filter,
		feeRate:    cfg.FeeRate,
		startQuote: cfg.QuoteBalance,
		quote:      cfg.QuoteBalance,
		base:       cfg.BaseBalance,
		orders:     make(map[string]execution.Fill),
		now:        time.Now,
	}
}

// Mark records the latest market price.
func (a *Account) Mark(price decimal.Decimal) {
	a.mu.Lock()
	a.mark = price
	a.mu.Unlock()
}

// FailNext makes the next SubmitOrder return err without touching balances.
func (a *Account) FailNext(err error) {
	a.mu.Lock()
	a.failNext = err
	a.mu.Unlock()
}

// Balance returns the free balance of asset.
func (a *Account) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch asset {
	case a.inst.QuoteAsset:
		return a.quote, nil
	case a.inst.BaseAsset:
		return a.base, nil
	default:
		return decimal.Zero, nil
	}
}

// SymbolFilter returns the configured lot-size filter.
func (a *Account) SymbolFilter(_ context.Context, symbol string) (execution.SymbolFilter, error) {
	if symbol != a.inst.Symbol {
		return execution.SymbolFilter{}, fault.Newf(fault.NotFound, "symbol filter", "unknown symbol %s", symbol)
	}
	return a.filter, nil
}

// LastPrice returns the marked price.
func (a *Account) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if symbol != a.inst.Symbol {
		return decimal.Zero, fault.Newf(fault.NotFound, "last price", "unknown symbol %s", symbol)
	}
	if !a.mark.IsPositive() {
		return decimal.Zero, fault.Newf(fault.DataInsufficient, "last price", "no price marked for %s", symbol)
	}
	return a.mark, nil
}

// SubmitOrder fills a market order in full. Fees are taken from the asset received.
func (a *Account) SubmitOrder(_ context.Context, req execution.OrderRequest) (execution.Fill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.failNext; err != nil {
		a.failNext = nil
		return execution.Fill{}, err
	}
	if req.Symbol != a.inst.Symbol {
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "unknown symbol %s", req.Symbol)
	}
	if _, dup := a.orders[req.ClientOrderID]; dup && req.ClientOrderID != "" {
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "duplicate client order id %s", req.ClientOrderID)
	}
	qty := req.Quantity
	if !qty.IsPositive() {
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "quantity must be positive")
	}
	if qty.LessThan(a.filter.MinQty) {
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "quantity %s below min %s", qty, a.filter.MinQty)
	}
	price := req.ReferencePrice
	if !price.IsPositive() {
		price = a.mark
	}
	if !price.IsPositive() {
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "no price for %s", req.Symbol)
	}

	notional := qty.Mul(price)
	var fee decimal.Decimal
	var feeAsset string
	switch req.Side {
	case execution.Buy:
		if notional.GreaterThan(a.quote) {
			return execution.Fill{}, fault.New(fault.ExchangeRejected, "submit order", errors.New("insufficient balance for buy"))
		}
		fee = qty.Mul(a.feeRate)
		feeAsset = a.inst.BaseAsset
		received := qty.Sub(fee)
		newBase := a.base.Add(received)
		if newBase.IsPositive() {
			a.avgCost = a.avgCost.Mul(a.base).Add(notional).Div(newBase)
		}
		a.quote = a.quote.Sub(notional)
		a.base = newBase
	case execution.Sell:
		if qty.GreaterThan(a.base) {
			return execution.Fill{}, fault.New(fault.ExchangeRejected, "submit order", errors.New("insufficient position to sell"))
		}
		fee = notional.Mul(a.feeRate)
		feeAsset = a.inst.QuoteAsset
		a.realizedPnL = a.realizedPnL.Add(price.Sub(a.avgCost).Mul(qty)).Sub(fee)
		a.quote = a.quote.Add(notional.Sub(fee))
		a.base = a.base.Sub(qty)
		if a.base.IsZero() {
			a.avgCost = decimal.Zero
		}
	default:
		return execution.Fill{}, fault.Newf(fault.ExchangeRejected, "submit order", "unknown order side %q", req.Side)
	}

	a.nextID++
	fill := execution.Fill{
		ClientOrderID: req.ClientOrderID,
		OrderID:       strconv.FormatInt(a.nextID, 10),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        execution.StatusFilled,
		ExecutedQty:   qty,
		AvgPrice:      price,
		Fee:           fee,
		FeeAsset:      feeAsset,
		TransactTime:  a.now().UTC(),
	}
	a.mark = price
	if req.ClientOrderID != "" {
		a.orders[req.ClientOrderID] = fill
	}
	return fill, nil
}

// QueryOrder looks a previous order up by client id.
func (a *Account) QueryOrder(_ context.Context, symbol, clientOrderID string) (execution.Fill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fill, ok := a.orders[clientOrderID]
	if !ok || fill.Symbol != symbol {
		return execution.Fill{}, fault.New(fault.NotFound, "query order", fmt.Errorf("order %s does not exist", clientOrderID))
	}
	return fill, nil
}

// Snapshot returns a copy of balances marked at the last price.
func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Quote:       a.quote,
		Base:        a.base,
		AvgCost:     a.avgCost,
		RealizedPnL: a.realizedPnL,
		Equity:      a.quote.Add(a.base.Mul(a.mark)),
		Mark:        a.mark,
	}
}

// StartingQuote returns the initial bankroll.
func (a *Account) StartingQuote() decimal.Decimal { return a.startQuote }
