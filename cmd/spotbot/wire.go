package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotbot-go/internal/config"
	"spotbot-go/internal/engine"
	"spotbot-go/internal/exchange"
	"spotbot-go/internal/execution"
	"spotbot-go/internal/indicator"
	"spotbot-go/internal/paper"
	"spotbot-go/internal/position"
	"spotbot-go/internal/risk"
	"spotbot-go/internal/store"
	"spotbot-go/internal/strategy"
	"spotbot-go/internal/util"
)

// bot is the assembled runtime for one pair.
type bot struct {
	runner   *engine.Runner
	strategy strategy.Strategy
	states   *store.StateFile
	closers  []func()
}

func (b *bot) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// build wires venue, candle source, journal, executor and runner from cfg.
// A websocket candle stream, when configured, runs until ctx is done.
func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*bot, error) {
	b := &bot{}
	inst := execution.Instrument{
		Symbol:     strings.ToUpper(cfg.Exchange.Symbol),
		BaseAsset:  strings.ToUpper(cfg.Exchange.BaseAsset),
		QuoteAsset: strings.ToUpper(cfg.Exchange.QuoteAsset),
	}

	var client *exchange.Binance
	newClient := func() *exchange.Binance {
		if client == nil {
			client = exchange.NewBinance(binanceConfig(cfg.Exchange), util.Component(log, "binance"))
			b.closers = append(b.closers, client.Close)
		}
		return client
	}

	var (
		candles engine.CandleSource
		prices  engine.PriceSource
	)
	switch exchange.NormalizeProvider(cfg.Exchange.Provider) {
	case exchange.ProviderBinance:
		candles, prices = newClient(), newClient()
	case exchange.ProviderBinanceStream:
		rest := newClient()
		stream := exchange.NewKlineStream(rest, streamURL(cfg.Exchange), inst.Symbol, cfg.Exchange.Interval, cfg.Exchange.CandleLimit, util.Component(log, "kline_stream"))
		go func() { _ = stream.Run(ctx) }()
		candles, prices = stream, rest
	default:
		stub := exchange.NewStub()
		candles, prices = stub, stub
	}

	var (
		venue   execution.Venue
		onPrice func(decimal.Decimal)
	)
	if cfg.Live() {
		venue = newClient()
	} else {
		account, err := paperAccount(inst, cfg.Paper)
		if err != nil {
			b.Close()
			return nil, err
		}
		venue, onPrice = account, account.Mark
	}

	journal, closeJournal, err := openJournal(cfg.Storage)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, closeJournal)
	b.states = store.NewStateFile(cfg.Storage.StatePath)

	limits := risk.Limits{MaxNotionalPerTrade: decimal.NewFromFloat(cfg.Risk.MaxNotionalPerTrade)}
	exec := execution.NewExecutor(util.Component(log, "executor"), venue, journal, b.states, execution.Config{
		Limits:    limits,
		FilterTTL: cfg.Exchange.FilterTTL(),
	})
	b.strategy = strategy.Build(cfg.Strategy.Mode, strategyParams(cfg.Strategy.Params))

	b.runner = engine.NewRunner(engine.Config{
		Instrument:  inst,
		Interval:    cfg.Exchange.Interval,
		CandleLimit: cfg.Exchange.CandleLimit,
		Tick:        cfg.Engine.Interval(),
		CallTimeout: cfg.Exchange.RequestTimeout(),
		Indicators:  indicatorParams(cfg.Strategy.Params),
		Reconcile: position.Options{
			Dust:      decimal.NewFromFloat(cfg.Risk.DustThreshold),
			KeepEntry: cfg.Engine.KeepEntryOnReconcile,
		},
	}, engine.Deps{
		Candles:  candles,
		Prices:   prices,
		Venue:    venue,
		States:   b.states,
		Executor: exec,
		Strategy: b.strategy,
		OnPrice:  onPrice,
	}, util.Component(log, "engine"))
	return b, nil
}

func binanceConfig(ex config.Exchange) exchange.BinanceConfig {
	base := ex.BaseURL
	if base == "" {
		base = exchange.BinanceMainnetURL
		if ex.Testnet {
			base = exchange.BinanceTestnetURL
		}
	}
	return exchange.BinanceConfig{
		BaseURL:           base,
		APIKey:            ex.APIKey,
		SecretKey:         ex.APISecret,
		Timeout:           ex.RequestTimeout(),
		RecvWindow:        time.Duration(ex.RecvWindowMs) * time.Millisecond,
		RequestsPerSecond: ex.RequestsPerSecond,
	}
}

func streamURL(ex config.Exchange) string {
	switch {
	case ex.StreamURL != "":
		return ex.StreamURL
	case ex.Testnet:
		return exchange.BinanceTestnetStreamURL
	default:
		return exchange.BinanceStreamURL
	}
}

func paperAccount(inst execution.Instrument, p config.Paper) (*paper.Account, error) {
	filter := execution.SymbolFilter{}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"paper.min_qty", p.MinQty, &filter.MinQty},
		{"paper.max_qty", p.MaxQty, &filter.MaxQty},
		{"paper.step_size", p.StepSize, &filter.StepSize},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return paper.NewAccount(paper.Config{
		Instrument:   inst,
		QuoteBalance: decimal.NewFromFloat(p.StartingQuote),
		BaseBalance:  decimal.NewFromFloat(p.StartingBase),
		FeeRate:      decimal.NewFromFloat(p.FeeRate),
		Filter:       filter,
	}), nil
}

func openJournal(s config.Storage) (execution.Journal, func(), error) {
	switch strings.ToLower(s.Journal) {
	case "sqlite":
		j, err := store.OpenSQLiteJournal(s.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = j.Close() }, nil
	case "memory":
		return paper.NewLedger(0), func() {}, nil
	default:
		j, err := store.NewJSONLJournal(s.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = j.Close() }, nil
	}
}

func strategyParams(p config.StrategyParams) strategy.Params {
	return strategy.Params{
		RSIOversold:         p.RSIOversold,
		RSIOverbought:       p.RSIOverbought,
		TakeProfitPercent:   decimal.NewFromFloat(p.TakeProfitPercent),
		MinProfitMargin:     decimal.NewFromFloat(p.MinProfitMargin),
		FeeRatePerSide:      decimal.NewFromFloat(p.FeeRatePerSide),
		ATRStopMultiplier:   decimal.NewFromFloat(p.ATRStopMultiplier),
		ATRTargetMultiplier: decimal.NewFromFloat(p.ATRTargetMultiplier),
	}
}

func indicatorParams(p config.StrategyParams) indicator.Params {
	return indicator.Params{
		RSIPeriod:       p.RSIPeriod,
		ATRPeriod:       p.ATRPeriod,
		BollingerPeriod: p.BollingerPeriod,
		BollingerK:      p.BollingerK,
		MACDShort:       p.MACDShort,
		MACDLong:        p.MACDLong,
		MACDSignal:      p.MACDSignal,
		SignalMode:      indicator.SignalMode(strings.ToLower(p.MACDSignalMode)),
	}
}
