// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"spotbot-go/internal/fault"
)

// Modes the bot can run in.
const (
	EnvPaper = "paper"
	EnvLive  = "live"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Exchange describes the venue, the traded pair and how candles are sourced.
type Exchange struct {
	Name              string  `yaml:"name"`
	Provider          string  `yaml:"provider"`
	Symbol            string  `yaml:"symbol"`
	BaseAsset         string  `yaml:"base_asset"`
	QuoteAsset        string  `yaml:"quote_asset"`
	Interval          string  `yaml:"interval"`
	CandleLimit       int     `yaml:"candle_limit"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Testnet           bool    `yaml:"testnet"`
	BaseURL           string  `yaml:"base_url"`
	StreamURL         string  `yaml:"stream_url"`
	RequestTimeoutMs  int     `yaml:"request_timeout_ms"`
	RecvWindowMs      int     `yaml:"recv_window_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	FilterTTLSecs     int     `yaml:"filter_ttl_secs"`
}

// RequestTimeout is the bound applied to every venue call.
func (e Exchange) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}

// FilterTTL is how long a symbol filter is reused.
func (e Exchange) FilterTTL() time.Duration {
	return time.Duration(e.FilterTTLSecs) * time.Second
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	DustThreshold       float64 `yaml:"dust_threshold"`
}

// StrategyParams groups indicator periods and decision thresholds.
type StrategyParams struct {
	RSIPeriod           int     `yaml:"rsi_period"`
	ATRPeriod           int     `yaml:"atr_period"`
	BollingerPeriod     int     `yaml:"bollinger_period"`
	BollingerK          float64 `yaml:"bollinger_k"`
	MACDShort           int     `yaml:"macd_short"`
	MACDLong            int     `yaml:"macd_long"`
	MACDSignal          int     `yaml:"macd_signal"`
	MACDSignalMode      string  `yaml:"macd_signal_mode"`
	RSIOversold         float64 `yaml:"rsi_oversold"`
	RSIOverbought       float64 `yaml:"rsi_overbought"`
	TakeProfitPercent   float64 `yaml:"take_profit_percent"`
	MinProfitMargin     float64 `yaml:"min_profit_margin"`
	FeeRatePerSide      float64 `yaml:"fee_rate_per_side"`
	ATRStopMultiplier   float64 `yaml:"atr_stop_multiplier"`
	ATRTargetMultiplier float64 `yaml:"atr_target_multiplier"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Engine tunes the cycle loop.
type Engine struct {
	IntervalMs int `yaml:"interval_ms"`
	// KeepEntryOnReconcile keeps a persisted entry price when the balance confirms an open position.
	KeepEntryOnReconcile bool `yaml:"keep_entry_on_reconcile"`
}

// Interval is the tick period.
func (e Engine) Interval() time.Duration {
	return time.Duration(e.IntervalMs) * time.Millisecond
}

// Storage locates position state and the trade journal.
type Storage struct {
	StatePath   string `yaml:"state_path"`
	Journal     string `yaml:"journal"`
	JournalPath string `yaml:"journal_path"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingQuote float64 `yaml:"starting_quote"`
	StartingBase  float64 `yaml:"starting_base"`
	FeeRate       float64 `yaml:"fee_rate"`
	MinQty        string  `yaml:"min_qty"`
	MaxQty        string  `yaml:"max_qty"`
	StepSize      string  `yaml:"step_size"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Risk     Risk     `yaml:"risk"`
	Strategy Strategy `yaml:"strategy"`
	Engine   Engine   `yaml:"engine"`
	Storage  Storage  `yaml:"storage"`
	Paper    Paper    `yaml:"paper"`
}

// Default returns a paper-mode configuration trading BTCUSDT on 5m candles.
func Default() *Config {
	return &Config{
		App: App{Name: "spotbot", Env: EnvPaper, MetricsAddr: ":9100", LogLevel: "info", LogFormat: "json"},
		Exchange: Exchange{
			Name:              "binance",
			Provider:          "stub",
			Symbol:            "BTCUSDT",
			BaseAsset:         "BTC",
			QuoteAsset:        "USDT",
			Interval:          "5m",
			CandleLimit:       100,
			RequestTimeoutMs:  5000,
			RecvWindowMs:      5000,
			RequestsPerSecond: 10,
			FilterTTLSecs:     600,
		},
		Risk: Risk{DustThreshold: 0.00001},
		Strategy: Strategy{
			Mode: "rsi_atr",
			Params: StrategyParams{
				RSIPeriod:           14,
				ATRPeriod:           14,
				BollingerPeriod:     20,
				BollingerK:          2,
				MACDShort:           12,
				MACDLong:            26,
				MACDSignal:          9,
				MACDSignalMode:      "compat",
				RSIOversold:         30,
				RSIOverbought:       70,
				TakeProfitPercent:   0.15,
				MinProfitMargin:     0,
				FeeRatePerSide:      0.001,
				ATRStopMultiplier:   2,
				ATRTargetMultiplier: 3,
			},
		},
		Engine:  Engine{IntervalMs: 3000},
		Storage: Storage{StatePath: "data/state.json", Journal: "jsonl", JournalPath: "data/trades.jsonl"},
		Paper: Paper{
			StartingQuote: 1000,
			FeeRate:       0.001,
			MinQty:        "0.00001",
			MaxQty:        "9000",
			StepSize:      "0.00001",
		},
	}
}

// Load reads a YAML file from disk over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads an optional .env file and lets environment variables
// override credentials, network and log level.
func (c *Config) ApplyEnv(envFiles ...string) {
	_ = godotenv.Load(envFiles...)

	if val := os.Getenv("BINANCE_API_KEY"); val != "" {
		c.Exchange.APIKey = val
	}
	if val := os.Getenv("BINANCE_SECRET_KEY"); val != "" {
		c.Exchange.APISecret = val
	}
	if val := os.Getenv("BINANCE_TESTNET"); val != "" {
		if testnet, err := strconv.ParseBool(val); err == nil {
			c.Exchange.Testnet = testnet
		}
	}
	if val := os.Getenv("SPOTBOT_LOG_LEVEL"); val != "" {
		c.App.LogLevel = val
	}
	if val := os.Getenv("SPOTBOT_ENV"); val != "" {
		c.App.Env = strings.ToLower(val)
	}
}

// Live reports whether real orders are sent.
func (c *Config) Live() bool { return strings.EqualFold(c.App.Env, EnvLive) }

// Validate rejects settings the bot cannot safely start with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch strings.ToLower(c.App.Env) {
	case EnvPaper, EnvLive:
	default:
		add("app.env must be %q or %q, got %q", EnvPaper, EnvLive, c.App.Env)
	}
	if c.Exchange.Symbol == "" || c.Exchange.BaseAsset == "" || c.Exchange.QuoteAsset == "" {
		add("exchange.symbol, base_asset and quote_asset are required")
	}
	if c.Exchange.Interval == "" {
		add("exchange.interval is required")
	}
	if c.Live() {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			add("live mode requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
		}
		if strings.EqualFold(c.Exchange.Provider, "stub") || c.Exchange.Provider == "" {
			add("live mode cannot use the stub candle provider")
		}
	}
	if c.Engine.IntervalMs <= 0 {
		add("engine.interval_ms must be positive")
	}
	if c.Exchange.RequestTimeoutMs <= 0 {
		add("exchange.request_timeout_ms must be positive")
	}

	p := c.Strategy.Params
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		add("rsi thresholds must satisfy 0 < oversold < overbought < 100, got %v/%v", p.RSIOversold, p.RSIOverbought)
	}
	if p.TakeProfitPercent <= 0 {
		add("take_profit_percent must be positive")
	}
	if p.FeeRatePerSide < 0 || p.FeeRatePerSide >= 0.5 {
		add("fee_rate_per_side out of range: %v", p.FeeRatePerSide)
	}
	if p.ATRStopMultiplier <= 0 || p.ATRTargetMultiplier <= 0 {
		add("atr multipliers must be positive")
	}
	if p.RSIPeriod <= 0 || p.ATRPeriod <= 0 || p.BollingerPeriod <= 0 || p.MACDShort <= 0 || p.MACDSignal <= 0 || p.MACDLong <= p.MACDShort {
		add("indicator periods must be positive with macd_long > macd_short")
	}
	switch strings.ToLower(p.MACDSignalMode) {
	case "", "compat", "rolling":
	default:
		add("macd_signal_mode must be compat or rolling, got %q", p.MACDSignalMode)
	}
	if c.Risk.MaxNotionalPerTrade < 0 || c.Risk.DustThreshold < 0 {
		add("risk limits must not be negative")
	}
	switch strings.ToLower(c.Storage.Journal) {
	case "jsonl", "sqlite", "memory":
	default:
		add("storage.journal must be jsonl, sqlite or memory, got %q", c.Storage.Journal)
	}
	if c.Storage.StatePath == "" {
		add("storage.state_path is required")
	}

	if len(problems) > 0 {
		return fault.New(fault.Config, "validate config", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}
