package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CandlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_total", Help: "Count of kline updates ingested"},
		[]string{"symbol"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Decision cycles by outcome"},
		[]string{"outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_rejections_total", Help: "Orders not placed or refused, by failure kind"},
		[]string{"kind"},
	)
	IndicatorValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "indicator_value", Help: "Latest indicator readings"},
		[]string{"name"},
	)
	PositionOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "position_open", Help: "1 while a position is held"},
	)
)

func init() {
	prometheus.MustRegister(CandlesTotal, CyclesTotal, OrdersTotal, OrderRejections, IndicatorValue, PositionOpen)
}

// SetPosition mirrors the position flag into the gauge.
func SetPosition(open bool) {
	if open {
		PositionOpen.Set(1)
		return
	}
	PositionOpen.Set(0)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
