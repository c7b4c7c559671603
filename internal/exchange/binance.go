package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spotbot-go/internal/execution"
	"spotbot-go/internal/fault"
	"spotbot-go/internal/signal"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	BinanceMainnetURL       = "https://api.binance.com"
	BinanceTestnetURL       = "https://testnet.binance.vision"
	BinanceStreamURL        = "wss://stream.binance.com:9443"
	BinanceTestnetStreamURL = "wss://stream.testnet.binance.vision"

	apiKeyHeader = "X-MBX-APIKEY"

	codeUnknownOrder  = -2013
	codeInvalidSymbol = -1121
)

// BinanceConfig configures the REST adapter.
type BinanceConfig struct {
	BaseURL           string
	APIKey            string
	SecretKey         string
	Timeout           time.Duration
	RecvWindow        time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Binance is a spot REST client covering candles, balances, filters and market orders.
type Binance struct {
	http       *resty.Client
	apiKey     string
	signer     *Signer
	limiter    *rate.Limiter
	recvWindow time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewBinance builds the client. Unsigned endpoints work without credentials.
func NewBinance(cfg BinanceConfig, log zerolog.Logger) *Binance {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BinanceMainnetURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	return &Binance{
		http:       client,
		apiKey:     cfg.APIKey,
		signer:     NewSigner(cfg.SecretKey),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		recvWindow: cfg.RecvWindow,
		log:        log,
		now:        time.Now,
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (b *Binance) do(ctx context.Context, op, method, path string, params url.Values, signed bool, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fault.New(fault.NetworkFailure, op, err)
	}
	if params == nil {
		params = url.Values{}
	}
	req := b.http.R().SetContext(ctx)
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(b.recvWindow.Milliseconds(), 10))
		query = params.Encode()
		query += "&signature=" + b.signer.Sign(query)
		req.SetHeader(apiKeyHeader, b.apiKey)
	}
	// the query is passed raw so the signed byte order reaches the venue unchanged
	target := path
	if query != "" {
		target += "?" + query
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return fault.New(fault.NetworkFailure, op, err)
	}
	if err := classify(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fault.New(fault.NetworkFailure, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classify(op string, resp *resty.Response) error {
	status := resp.StatusCode()
	if status < 300 {
		return nil
	}
	var apiErr apiError
	_ = json.Unmarshal(resp.Body(), &apiErr)
	detail := fmt.Errorf("http %d: code %d: %s", status, apiErr.Code, apiErr.Msg)
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusTeapot, status == http.StatusRequestTimeout:
		return fault.New(fault.NetworkFailure, op, detail)
	case apiErr.Code == codeUnknownOrder, apiErr.Code == codeInvalidSymbol:
		return fault.New(fault.NotFound, op, detail)
	default:
		return fault.New(fault.ExchangeRejected, op, detail)
	}
}

// Candles fetches klines, oldest first.
func (b *Binance) Candles(ctx context.Context, symbol, interval string, limit int) (signal.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	var rows [][]json.RawMessage
	if err := b.do(ctx, "fetch candles", http.MethodGet, "/api/v3/klines", params, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fault.Newf(fault.DataInsufficient, "fetch candles", "empty response for %s %s", symbol, interval)
	}
	series := make(signal.Series, 0, len(rows))
	for i, row := range rows {
		c, err := parseKlineRow(row)
		if err != nil {
			return nil, fault.Newf(fault.DataInsufficient, "fetch candles", "row %d: %v", i, err)
		}
		series = append(series, c)
	}
	return series, nil
}

func parseKlineRow(row []json.RawMessage) (signal.Candle, error) {
	if len(row) < 7 {
		return signal.Candle{}, fmt.Errorf("expected at least 7 fields, got %d", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return signal.Candle{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return signal.Candle{}, fmt.Errorf("close time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return signal.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return signal.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return signal.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// Balance returns the free balance of asset; an asset absent from the account is zero.
func (b *Binance) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var acct accountResponse
	if err := b.do(ctx, "fetch balance", http.MethodGet, "/api/v3/account", nil, true, &acct); err != nil {
		return decimal.Zero, err
	}
	for _, bal := range acct.Balances {
		if strings.EqualFold(bal.Asset, asset) {
			return bal.Free, nil
		}
	}
	return decimal.Zero, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string          `json:"filterType"`
			MinQty     decimal.Decimal `json:"minQty"`
			MaxQty     decimal.Decimal `json:"maxQty"`
			StepSize   decimal.Decimal `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolFilter returns the LOT_SIZE filter of symbol.
func (b *Binance) SymbolFilter(ctx context.Context, symbol string) (execution.SymbolFilter, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var info exchangeInfoResponse
	if err := b.do(ctx, "fetch symbol filter", http.MethodGet, "/api/v3/exchangeInfo", params, false, &info); err != nil {
		return execution.SymbolFilter{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				return execution.SymbolFilter{MinQty: f.MinQty, MaxQty: f.MaxQty, StepSize: f.StepSize}, nil
			}
		}
		return execution.SymbolFilter{}, fault.Newf(fault.NotFound, "fetch symbol filter", "no LOT_SIZE filter for %s", symbol)
	}
	return execution.SymbolFilter{}, fault.Newf(fault.NotFound, "fetch symbol filter", "unknown symbol %s", symbol)
}

// LastPrice returns the latest traded price of symbol.
func (b *Binance) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var ticker struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := b.do(ctx, "fetch price", http.MethodGet, "/api/v3/ticker/price", params, false, &ticker); err != nil {
		return decimal.Zero, err
	}
	if !ticker.Price.IsPositive() {
		return decimal.Zero, fault.Newf(fault.DataInsufficient, "fetch price", "non-positive price for %s", symbol)
	}
	return ticker.Price, nil
}

type orderResponse struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	TransactTime        int64           `json:"transactTime"`
	UpdateTime          int64           `json:"updateTime"`
	Side                string          `json:"side"`
	Status              string          `json:"status"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price           decimal.Decimal `json:"price"`
		Qty             decimal.Decimal `json:"qty"`
		Commission      decimal.Decimal `json:"commission"`
		CommissionAsset string          `json:"commissionAsset"`
	} `json:"fills"`
}

func (o orderResponse) toFill() execution.Fill {
	fill := execution.Fill{
		ClientOrderID: o.ClientOrderID,
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		Symbol:        o.Symbol,
		Side:          execution.Side(o.Side),
		Status:        o.Status,
		ExecutedQty:   o.ExecutedQty,
	}
	ts := o.TransactTime
	if ts == 0 {
		ts = o.UpdateTime
	}
	if ts > 0 {
		fill.TransactTime = time.UnixMilli(ts).UTC()
	}
	if len(o.Fills) > 0 {
		parts := make([]execution.FillPart, 0, len(o.Fills))
		for _, f := range o.Fills {
			parts = append(parts, execution.FillPart{Price: f.Price, Qty: f.Qty, Commission: f.Commission})
		}
		fill.AvgPrice, fill.Fee = execution.AveragePrice(parts)
		fill.FeeAsset = o.Fills[0].CommissionAsset
	} else if o.ExecutedQty.IsPositive() {
		fill.AvgPrice = o.CummulativeQuoteQty.Div(o.ExecutedQty)
	}
	return fill
}

// SubmitOrder places a MARKET order and returns the full fill report.
func (b *Binance) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	var resp orderResponse
	if err := b.do(ctx, "submit order", http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return execution.Fill{}, err
	}
	fill := resp.toFill()
	if fill.Side == "" {
		fill.Side = req.Side
	}
	b.log.Debug().Str("sym", fill.Symbol).Str("status", fill.Status).Str("order_id", fill.OrderID).Msg("order response")
	return fill, nil
}

// QueryOrder looks an order up by the client id it was submitted with.
func (b *Binance) QueryOrder(ctx context.Context, symbol, clientOrderID string) (execution.Fill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	var resp orderResponse
	if err := b.do(ctx, "query order", http.MethodGet, "/api/v3/order", params, true, &resp); err != nil {
		return execution.Fill{}, err
	}
	return resp.toFill(), nil
}

// Close wipes credentials held in memory.
func (b *Binance) Close() { b.signer.Wipe() }
