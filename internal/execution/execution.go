// Package execution turns decisions into exchange orders and applies confirmed fills.
package execution

import (
	"context"
	"time"

	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"

	"github.com/shopspring/decimal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy acquires the base asset.
	Buy Side = "BUY"
	// Sell disposes of the base asset.
	Sell Side = "SELL"
)

// SideFor maps a decision to an order side; Hold has none.
func SideFor(a signal.Action) (Side, bool) {
	switch a {
	case signal.Buy:
		return Buy, true
	case signal.Sell:
		return Sell, true
	default:
		return "", false
	}
}

// Order statuses reported by the venue.
const (
	StatusFilled          = "FILLED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusNew             = "NEW"
	StatusExpired         = "EXPIRED"
	StatusRejected        = "REJECTED"
	StatusCanceled        = "CANCELED"
)

// Instrument names the traded pair and its two assets.
type Instrument struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// SymbolFilter carries the venue's lot-size constraints.
type SymbolFilter struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	StepSize decimal.Decimal
}

// OrderIntent is the unquantized wish derived from a decision.
type OrderIntent struct {
	Symbol         string
	Side           Side
	ReferencePrice decimal.Decimal
	RawQuantity    decimal.Decimal
}

// OrderRequest is a quantized, filter-compliant market order.
type OrderRequest struct {
	OrderIntent
	Quantity      decimal.Decimal
	ClientOrderID string
}

// Fill is the venue's confirmation of an executed order.
type Fill struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Side          Side
	Status        string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	Fee           decimal.Decimal
	FeeAsset      string
	TransactTime  time.Time
}

// Executed reports whether any quantity changed hands.
func (f Fill) Executed() bool {
	return (f.Status == StatusFilled || f.Status == StatusPartiallyFilled) && f.ExecutedQty.IsPositive()
}

// FillPart is one matched trade within an order.
type FillPart struct {
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Commission decimal.Decimal
}

// AveragePrice is the quantity-weighted mean price over parts, plus the total commission.
func AveragePrice(parts []FillPart) (price, fee decimal.Decimal) {
	var notional, qty decimal.Decimal
	for _, p := range parts {
		notional = notional.Add(p.Price.Mul(p.Qty))
		qty = qty.Add(p.Qty)
		fee = fee.Add(p.Commission)
	}
	if !qty.IsPositive() {
		return decimal.Zero, fee
	}
	return notional.Div(qty), fee
}

// TradeRecord is the append-only journal entry for an executed order.
type TradeRecord struct {
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	FillPrice     decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fee           decimal.Decimal `json:"fee"`
	FeeAsset      string          `json:"fee_asset,omitempty"`
	Status        string          `json:"status"`
	ClientOrderID string          `json:"client_order_id"`
	OrderID       string          `json:"order_id,omitempty"`
}

// RecordFromFill builds the journal entry, falling back to the request's
// estimates only where the venue reported nothing.
func RecordFromFill(req OrderRequest, f Fill) TradeRecord {
	rec := TradeRecord{
		Timestamp:     f.TransactTime,
		Symbol:        f.Symbol,
		Side:          f.Side,
		FillPrice:     f.AvgPrice,
		Quantity:      f.ExecutedQty,
		Fee:           f.Fee,
		FeeAsset:      f.FeeAsset,
		Status:        f.Status,
		ClientOrderID: f.ClientOrderID,
		OrderID:       f.OrderID,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Symbol == "" {
		rec.Symbol = req.Symbol
	}
	if rec.Side == "" {
		rec.Side = req.Side
	}
	if !rec.FillPrice.IsPositive() {
		rec.FillPrice = req.ReferencePrice
	}
	if rec.ClientOrderID == "" {
		rec.ClientOrderID = req.ClientOrderID
	}
	return rec
}

// Venue is the order and balance surface of a market gateway.
type Venue interface {
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	SymbolFilter(ctx context.Context, symbol string) (SymbolFilter, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (Fill, error)
}

// Journal stores trade records.
type Journal interface {
	Append(ctx context.Context, rec TradeRecord) error
	Recent(ctx context.Context, limit int) ([]TradeRecord, error)
}

// StateSaver persists the position after a confirmed fill.
type StateSaver interface {
	Save(st position.State) error
}
