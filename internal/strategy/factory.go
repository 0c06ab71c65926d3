package strategy

import (
	"fmt"

	"pair-trader/internal/model"
)

// Defaults applied to fields the caller leaves at zero.
const (
	DefaultTimeframe         = 60
	DefaultRSIPeriod         = 14
	DefaultCorrelationWindow = 20
	DefaultRSIOverbought     = 70.0
	DefaultRSIOversold       = 30.0
	DefaultStartingBalance   = 10000.0
)

// ApplyDefaults fills unset numeric fields. Thresholds are left alone since
// zero is a legitimate correlation level.
func ApplyDefaults(cfg model.StrategyConfig) model.StrategyConfig {
	if cfg.Timeframe == 0 {
		cfg.Timeframe = DefaultTimeframe
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = DefaultRSIPeriod
	}
	if cfg.CorrelationWindow == 0 {
		cfg.CorrelationWindow = DefaultCorrelationWindow
	}
	if cfg.RSIOverbought == 0 && cfg.RSIOversold == 0 {
		cfg.RSIOverbought = DefaultRSIOverbought
		cfg.RSIOversold = DefaultRSIOversold
	}
	if cfg.StartingBalance == 0 {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.Name == "" && len(cfg.Symbols) == 2 {
		cfg.Name = fmt.Sprintf("%s/%s", cfg.Symbols[0], cfg.Symbols[1])
	}
	return cfg
}

// NewStrategy builds a validated Pair from a raw config, applying defaults.
func NewStrategy(cfg model.StrategyConfig) (*Pair, error) {
	return NewPair(ApplyDefaults(cfg))
}
