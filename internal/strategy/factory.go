// Package strategy turns indicator snapshots into trading decisions.
package strategy

import (
	"strings"

	"spotbot-go/internal/indicator"
	"spotbot-go/internal/position"
	"spotbot-go/internal/signal"

	"github.com/shopspring/decimal"
)

// Strategy defines behaviour shared by decision policies used by the bot.
type Strategy interface {
	Decide(snap indicator.Snapshot, pos position.State, lastPrice decimal.Decimal) signal.Decision
	Name() string
}

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	RSIOversold         float64
	RSIOverbought       float64
	TakeProfitPercent   decimal.Decimal
	MinProfitMargin     decimal.Decimal
	FeeRatePerSide      decimal.Decimal
	ATRStopMultiplier   decimal.Decimal
	ATRTargetMultiplier decimal.Decimal
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		RSIOversold:         30,
		RSIOverbought:       70,
		TakeProfitPercent:   decimal.RequireFromString("0.15"),
		MinProfitMargin:     decimal.Zero,
		FeeRatePerSide:      decimal.RequireFromString("0.001"),
		ATRStopMultiplier:   decimal.NewFromInt(2),
		ATRTargetMultiplier: decimal.NewFromInt(3),
	}
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) Strategy {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "rsi_only", "rsi":
		p := NewPolicy(params)
		p.disableATR = true
		return p
	default:
		return NewPolicy(params)
	}
}
