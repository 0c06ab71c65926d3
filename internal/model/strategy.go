package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid strategy config")

// ValidTimeframes lists the supported bar sizes in minutes.
var ValidTimeframes = []int{1, 5, 15, 30, 60, 240, 1440}

// StrategyConfig 策略配置, immutable for the lifetime of a monitor or backtest run.
type StrategyConfig struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Symbols           []string  `json:"currency_pairs"`
	Lots              []float64 `json:"lot_sizes"`
	Timeframe         int       `json:"timeframe"` // minutes
	RSIPeriod         int       `json:"rsi_period"`
	CorrelationWindow int       `json:"correlation_window"`
	RSIOverbought     float64   `json:"rsi_overbought"`
	RSIOversold       float64   `json:"rsi_oversold"`
	EntryThreshold    float64   `json:"entry_threshold"`
	ExitThreshold     float64   `json:"exit_threshold"`
	CooldownHours     float64   `json:"cooldown_hours"`
	MaxHoldingHours   float64   `json:"max_holding_hours"` // 0 disables the override
	MagicID           int64     `json:"magic_id"`
	Comment           string    `json:"comment"`
	StartingBalance   float64   `json:"starting_balance"`
}

func (c StrategyConfig) SymbolA() string { return c.Symbols[0] }
func (c StrategyConfig) SymbolB() string { return c.Symbols[1] }
func (c StrategyConfig) LotA() float64   { return c.Lots[0] }
func (c StrategyConfig) LotB() float64   { return c.Lots[1] }

// Cooldown converts CooldownHours to a duration.
func (c StrategyConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours * float64(time.Hour))
}

// MaxHolding converts MaxHoldingHours to a duration; zero means unlimited.
func (c StrategyConfig) MaxHolding() time.Duration {
	return time.Duration(c.MaxHoldingHours * float64(time.Hour))
}

// BarDuration is the length of one bar.
func (c StrategyConfig) BarDuration() time.Duration {
	return time.Duration(c.Timeframe) * time.Minute
}

// Thresholds returns the levels echoed in indicator snapshots.
func (c StrategyConfig) Thresholds() Thresholds {
	return Thresholds{
		Entry:         c.EntryThreshold,
		Exit:          c.ExitThreshold,
		RSIOverbought: c.RSIOverbought,
		RSIOversold:   c.RSIOversold,
	}
}

// Validate rejects configurations that must never reach a state machine.
func (c StrategyConfig) Validate() error {
	if len(c.Symbols) != 2 {
		return fmt.Errorf("%w: exactly 2 currency pairs required, got %d", ErrInvalidConfig, len(c.Symbols))
	}
	if c.Symbols[0] == "" || c.Symbols[1] == "" || c.Symbols[0] == c.Symbols[1] {
		return fmt.Errorf("%w: currency pairs must be two distinct symbols", ErrInvalidConfig)
	}
	if len(c.Lots) != 2 {
		return fmt.Errorf("%w: exactly 2 lot sizes required, got %d", ErrInvalidConfig, len(c.Lots))
	}
	for _, lot := range c.Lots {
		if lot <= 0 {
			return fmt.Errorf("%w: lot sizes must be greater than 0", ErrInvalidConfig)
		}
	}
	if !IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("%w: timeframe must be one of %v", ErrInvalidConfig, ValidTimeframes)
	}
	if c.RSIPeriod <= 0 {
		return fmt.Errorf("%w: rsi period must be positive", ErrInvalidConfig)
	}
	if c.CorrelationWindow < 2 {
		return fmt.Errorf("%w: correlation window must be at least 2", ErrInvalidConfig)
	}
	if c.RSIOverbought < 0 || c.RSIOverbought > 100 || c.RSIOversold < 0 || c.RSIOversold > 100 {
		return fmt.Errorf("%w: rsi levels must be between 0 and 100", ErrInvalidConfig)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("%w: rsi oversold must be below overbought", ErrInvalidConfig)
	}
	if c.EntryThreshold < -1 || c.EntryThreshold > 1 {
		return fmt.Errorf("%w: entry threshold must be between -1 and 1", ErrInvalidConfig)
	}
	if c.ExitThreshold < -1 || c.ExitThreshold > 1 {
		return fmt.Errorf("%w: exit threshold must be between -1 and 1", ErrInvalidConfig)
	}
	if c.CooldownHours < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidConfig)
	}
	if c.MaxHoldingHours < 0 {
		return fmt.Errorf("%w: max holding time must not be negative", ErrInvalidConfig)
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("%w: starting balance must be greater than 0", ErrInvalidConfig)
	}
	if c.MagicID <= 0 {
		return fmt.Errorf("%w: magic id must be positive", ErrInvalidConfig)
	}
	return nil
}

func IsValidTimeframe(tf int) bool {
	for _, v := range ValidTimeframes {
		if v == tf {
			return true
		}
	}
	return false
}

// Trade 一笔已平仓的配对交易. Created at exit, never partially filled.
type Trade struct {
	EntryTime        time.Time `json:"entry_time"`
	ExitTime         time.Time `json:"exit_time"`
	LongSymbol       string    `json:"long_pair"`
	ShortSymbol      string    `json:"short_pair"`
	LongEntryPrice   float64   `json:"long_entry_price"`
	LongExitPrice    float64   `json:"long_exit_price"`
	ShortEntryPrice  float64   `json:"short_entry_price"`
	ShortExitPrice   float64   `json:"short_exit_price"`
	LongLot          float64   `json:"long_lot"`
	ShortLot         float64   `json:"short_lot"`
	EntryCorrelation float64   `json:"entry_correlation"`
	ExitCorrelation  float64   `json:"exit_correlation"`
	EntryLongRSI     float64   `json:"entry_long_rsi"`
	EntryShortRSI    float64   `json:"entry_short_rsi"`
	ExitLongRSI      float64   `json:"exit_long_rsi"`
	ExitShortRSI     float64   `json:"exit_short_rsi"`
	DurationHours    float64   `json:"trade_duration"`
	LongProfit       float64   `json:"long_profit"`
	ShortProfit      float64   `json:"short_profit"`
	TotalProfit      float64   `json:"total_profit"`
}

// PerformanceMetrics is recomputed wholesale from a trade log.
type PerformanceMetrics struct {
	TotalTrades           int     `json:"total_trades"`
	WinningTrades         int     `json:"winning_trades"`
	LosingTrades          int     `json:"losing_trades"`
	WinRate               float64 `json:"win_rate"`
	NetProfitPercentage   float64 `json:"net_profit_percentage"`
	NetProfitDollars      float64 `json:"net_profit_dollars"`
	MaxDrawdownPercentage float64 `json:"max_drawdown_percentage"`
	MaxDrawdownDollars    float64 `json:"max_drawdown_dollars"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	AvgTradeDuration      float64 `json:"avg_trade_duration"` // hours
	ProfitFactor          float64 `json:"profit_factor"`
	PeakBalance           float64 `json:"peak_balance"`
	FinalBalance          float64 `json:"final_balance"`
}

// EquityPoint is the account balance after a trade closed.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// CorrelationStats summarises the correlation regime over the backtest window.
type CorrelationStats struct {
	Mean         float64 `json:"avg_corr"`
	Below025     int     `json:"below_025"`
	Below0       int     `json:"below_0"`
	BelowNeg025  int     `json:"below_neg025"`
	TotalPeriods int     `json:"total_periods"`
}

// BacktestReport 回测结果报告
type BacktestReport struct {
	RunID            string             `json:"run_id,omitempty"`
	StrategyName     string             `json:"strategy_name"`
	Trades           []Trade            `json:"trades"`
	Metrics          PerformanceMetrics `json:"metrics"`
	EquityCurve      []EquityPoint      `json:"equity_curve_data"`
	CorrelationStats CorrelationStats   `json:"correlation_stats"`
}
