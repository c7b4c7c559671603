package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotbot-go/internal/execution"
	"spotbot-go/internal/fault"
)

func TestSignerMatchesDocumentedVector(t *testing.T) {
	s := NewSigner("NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j")
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	const want = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := s.Sign(query); got != want {
		t.Fatalf("unexpected signature %s", got)
	}
}

func newTestBinance(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBinance(BinanceConfig{BaseURL: srv.URL, APIKey: "key", SecretKey: "secret", RequestsPerSecond: 1000, Burst: 100}, zerolog.Nop())
	b.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return b
}

func TestCandlesParsesKlines(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "5m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.5","99.5","101.0","12.3",1700000299999,"0",1,"0","0","0"],
			[1700000300000,"101.0","102.0","100.5","101.8","8.1",1700000599999,"0",1,"0","0","0"]
		]`))
	})
	series, err := b.Candles(context.Background(), "BTCUSDT", "5m", 2)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(series))
	}
	if series[1].Close != 101.8 || series[0].High != 101.5 || !series[0].OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected candles %+v", series)
	}
}

func TestCandlesEmptyIsDataInsufficient(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := b.Candles(context.Background(), "BTCUSDT", "5m", 100)
	if !fault.IsKind(err, fault.DataInsufficient) {
		t.Fatalf("expected data insufficient, got %v", err)
	}
}

func TestBalanceIsSigned(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Errorf("missing signature in %s", raw)
		} else if sig := raw[idx+len("&signature="):]; sig != NewSigner("secret").Sign(raw[:idx]) {
			t.Errorf("signature does not cover the sent query")
		}
		if r.URL.Query().Get("timestamp") != "1700000000000" || r.URL.Query().Get("recvWindow") != "5000" {
			t.Errorf("unexpected query %s", raw)
		}
		_, _ = w.Write([]byte(`{"balances":[{"asset":"BTC","free":"0.01230000","locked":"0"},{"asset":"USDT","free":"250.5","locked":"1"}]}`))
	})
	ctx := context.Background()
	got, err := b.Balance(ctx, "USDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("250.5")) {
		t.Fatalf("unexpected balance %s", got)
	}
	got, err = b.Balance(ctx, "ETH")
	if err != nil || !got.IsZero() {
		t.Fatalf("missing asset should be zero, got %s %v", got, err)
	}
}

func TestSymbolFilterReadsLotSize(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"}]}]}`))
	})
	f, err := b.SymbolFilter(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if !f.StepSize.Equal(decimal.RequireFromString("0.00001")) || !f.MaxQty.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("unexpected filter %+v", f)
	}
	if _, err := b.SymbolFilter(context.Background(), "ETHUSDT"); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitOrderAveragesFills(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "MARKET" || q.Get("newOrderRespType") != "FULL" || q.Get("newClientOrderId") != "cid-1" || q.Get("quantity") != "0.003" {
			t.Errorf("unexpected order params %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":77,"clientOrderId":"cid-1","transactTime":1700000000123,
			"side":"BUY","status":"FILLED","executedQty":"0.003","cummulativeQuoteQty":"302",
			"fills":[{"price":"100","qty":"0.001","commission":"0.000001","commissionAsset":"BTC"},
			         {"price":"101","qty":"0.002","commission":"0.000002","commissionAsset":"BTC"}]}`))
	})
	req := execution.OrderRequest{
		OrderIntent:   execution.OrderIntent{Symbol: "BTCUSDT", Side: execution.Buy, ReferencePrice: decimal.NewFromInt(100)},
		Quantity:      decimal.RequireFromString("0.003"),
		ClientOrderID: "cid-1",
	}
	fill, err := b.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	wantAvg := decimal.RequireFromString("0.302").Div(decimal.RequireFromString("0.003"))
	if !fill.AvgPrice.Equal(wantAvg) {
		t.Fatalf("expected avg %s, got %s", wantAvg, fill.AvgPrice)
	}
	if !fill.Fee.Equal(decimal.RequireFromString("0.000003")) || fill.FeeAsset != "BTC" || fill.OrderID != "77" {
		t.Fatalf("unexpected fill %+v", fill)
	}
	if !fill.Executed() {
		t.Fatalf("expected executed fill")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   fault.Kind
	}{
		{http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance"}`, fault.ExchangeRejected},
		{http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, fault.NotFound},
		{http.StatusServiceUnavailable, `oops`, fault.NetworkFailure},
		{http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, fault.NetworkFailure},
	}
	for _, tc := range cases {
		b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := b.QueryOrder(context.Background(), "BTCUSDT", "cid")
		if got := fault.KindOf(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s (%v)", tc.status, tc.want, got, err)
		}
	}
}

func TestTransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	b := NewBinance(BinanceConfig{BaseURL: url, Timeout: time.Second}, zerolog.Nop())
	_, err := b.LastPrice(context.Background(), "BTCUSDT")
	if !fault.IsKind(err, fault.NetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestLastPrice(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"30123.45000000"}`))
	})
	px, err := b.LastPrice(context.Background(), "BTCUSDT")
	if err != nil || !px.Equal(decimal.RequireFromString("30123.45")) {
		t.Fatalf("unexpected price %s %v", px, err)
	}
}
