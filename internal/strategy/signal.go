package strategy

import (
	"time"

	"pair-trader/internal/model"
)

// Direction says which leg of the pair is bought.
type Direction int

const (
	NoEntry Direction = iota
	LongA             // A oversold, B overbought
	LongB             // A overbought, B oversold
)

func (d Direction) String() string {
	switch d {
	case LongA:
		return "long_a"
	case LongB:
		return "long_b"
	default:
		return "none"
	}
}

// Legs is the resolved long/short assignment for an entry.
type Legs struct {
	Long      string
	Short     string
	LongLot   float64
	ShortLot  float64
	Direction Direction
}

// LongIsA reports whether the long leg is the first configured symbol.
func (l Legs) LongIsA() bool { return l.Direction == LongA }

// Pair evaluates entry and exit rules for one StrategyConfig.
// It holds no mutable state so backtest and live decisions agree.
type Pair struct {
	cfg model.StrategyConfig
}

func NewPair(cfg model.StrategyConfig) (*Pair, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pair{cfg: cfg}, nil
}

func (p *Pair) Config() model.StrategyConfig { return p.cfg }

// EntryDirection applies the correlation and RSI gates. Cooldown is checked by the caller.
func (p *Pair) EntryDirection(corr, rsiA, rsiB float64) Direction {
	if corr > p.cfg.EntryThreshold {
		return NoEntry
	}
	ob, os := p.cfg.RSIOverbought, p.cfg.RSIOversold

	bothOverbought := rsiA > ob && rsiB > ob
	bothOversold := rsiA < os && rsiB < os
	if bothOverbought || bothOversold {
		return NoEntry
	}

	switch {
	case rsiA > ob && rsiB < os:
		return LongB
	case rsiA < os && rsiB > ob:
		return LongA
	}
	return NoEntry
}

// Legs maps a direction onto symbols. Lots always follow their symbol.
func (p *Pair) Legs(d Direction) Legs {
	a, b := p.cfg.SymbolA(), p.cfg.SymbolB()
	la, lb := p.cfg.LotA(), p.cfg.LotB()
	if d == LongA {
		return Legs{Long: a, Short: b, LongLot: la, ShortLot: lb, Direction: d}
	}
	return Legs{Long: b, Short: a, LongLot: lb, ShortLot: la, Direction: d}
}

// CorrelationRecovered is the precondition for any profit-taking exit.
func (p *Pair) CorrelationRecovered(corr float64) bool {
	return corr > p.cfg.ExitThreshold
}

// InCooldown is true while fewer than CooldownHours have passed since last.
// A zero last time means no entry has happened yet.
func (p *Pair) InCooldown(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < p.cfg.Cooldown()
}

// CooldownRemaining is zero once the cooldown has elapsed.
func (p *Pair) CooldownRemaining(last, now time.Time) time.Duration {
	if !p.InCooldown(last, now) {
		return 0
	}
	return p.cfg.Cooldown() - now.Sub(last)
}

// HoldingExceeded reports whether a position opened at entry has reached
// MaxHoldingHours. Always false when the limit is disabled.
func (p *Pair) HoldingExceeded(entry, now time.Time) bool {
	limit := p.cfg.MaxHolding()
	if limit <= 0 || entry.IsZero() {
		return false
	}
	return now.Sub(entry) >= limit
}
