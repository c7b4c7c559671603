package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"spotbot-go/internal/metrics"
	"spotbot-go/internal/signal"
)

// CandleFetcher is the REST side used to seed and back up the stream.
type CandleFetcher interface {
	Candles(ctx context.Context, symbol, interval string, limit int) (signal.Series, error)
}

type klineEvent struct {
	Event  string      `json:"e"`
	Symbol string      `json:"s"`
	Kline  klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// KlineStream keeps the latest candles of one symbol current from the kline
// websocket, falling back to REST whenever the cache is cold.
type KlineStream struct {
	rest      CandleFetcher
	streamURL string
	symbol    string
	interval  string
	limit     int
	log       zerolog.Logger

	mu      sync.RWMutex
	candles signal.Series
	warm    bool
}

// NewKlineStream builds a stream for symbol at interval keeping limit candles.
func NewKlineStream(rest CandleFetcher, streamURL, symbol, interval string, limit int, log zerolog.Logger) *KlineStream {
	if streamURL == "" {
		streamURL = BinanceStreamURL
	}
	return &KlineStream{
		rest:      rest,
		streamURL: strings.TrimSuffix(streamURL, "/"),
		symbol:    strings.ToUpper(symbol),
		interval:  interval,
		limit:     limit,
		log:       log,
	}
}

// Warm reports whether the cache is seeded and the socket is live.
func (s *KlineStream) Warm() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warm
}

// Candles serves from the cache when warm and enough history is held.
func (s *KlineStream) Candles(ctx context.Context, symbol, interval string, limit int) (signal.Series, error) {
	if strings.EqualFold(symbol, s.symbol) && interval == s.interval {
		s.mu.RLock()
		if s.warm && len(s.candles) >= limit {
			out := make(signal.Series, limit)
			copy(out, s.candles[len(s.candles)-limit:])
			s.mu.RUnlock()
			return out, nil
		}
		s.mu.RUnlock()
	}
	return s.rest.Candles(ctx, symbol, interval, limit)
}

// Run keeps the stream connected until ctx is canceled.
func (s *KlineStream) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s/ws/%s@kline_%s", s.streamURL, strings.ToLower(s.symbol), s.interval)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, url)
		s.setWarm(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("kline stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (s *KlineStream) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	seed, err := s.rest.Candles(ctx, s.symbol, s.interval, s.limit)
	if err != nil {
		return fmt.Errorf("seed candles: %w", err)
	}
	s.mu.Lock()
	s.candles = seed
	s.warm = true
	s.mu.Unlock()

	s.log.Info().Str("sym", s.symbol).Str("interval", s.interval).Int("seeded", len(seed)).Msg("connected kline stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("kline ping failed")
					return
				}
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var ev klineEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode kline message")
			continue
		}
		if ev.Event != "kline" {
			continue
		}
		candle, err := ev.Kline.candle()
		if err != nil {
			s.log.Warn().Err(err).Msg("invalid kline from stream")
			continue
		}
		s.upsert(candle)
		metrics.CandlesTotal.WithLabelValues(s.symbol).Inc()
	}
}

func (k klinePayload) candle() (signal.Candle, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]float64
	for i, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return signal.Candle{}, err
		}
		vals[i] = v
	}
	return signal.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}

// upsert replaces the in-progress candle or appends a new one.
func (s *KlineStream) upsert(c signal.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.candles)
	switch {
	case n > 0 && s.candles[n-1].OpenTime.Equal(c.OpenTime):
		s.candles[n-1] = c
	case n > 0 && c.OpenTime.Before(s.candles[n-1].OpenTime):
		return
	default:
		s.candles = append(s.candles, c)
		if s.limit > 0 && len(s.candles) > s.limit {
			s.candles = append(signal.Series(nil), s.candles[len(s.candles)-s.limit:]...)
		}
	}
}

func (s *KlineStream) setWarm(v bool) {
	s.mu.Lock()
	s.warm = v
	s.mu.Unlock()
}
