package engine

import (
	"pair-trader/internal/model"
	"pair-trader/internal/strategy"
)

// ActiveTrade is an open simulated pair awaiting exit.
type ActiveTrade struct {
	Legs             strategy.Legs
	EntryIndex       int
	LongEntryPrice   float64
	ShortEntryPrice  float64
	EntryCorrelation float64
	EntryLongRSI     float64
	EntryShortRSI    float64
}

type Backtester struct {
	pair   *strategy.Pair
	cfg    model.StrategyConfig
	trades []model.Trade
	active []ActiveTrade
}

func NewBacktester(pair *strategy.Pair) *Backtester {
	return &Backtester{
		pair:   pair,
		cfg:    pair.Config(),
		trades: make([]model.Trade, 0),
	}
}

// Run replays the index. Each step checks exits before entries; whatever is
// still open at the end is closed on the last sample.
func (b *Backtester) Run(samples []Sample) model.BacktestReport {
	b.trades = b.trades[:0]
	b.active = nil

	var lastEntry Sample
	hasEntry := false

	for i, s := range samples {
		exits := b.exitCandidates(samples, i)
		for j := len(exits) - 1; j >= 0; j-- {
			b.exit(samples, i, exits[j])
		}

		if hasEntry && b.pair.InCooldown(lastEntry.Time, s.Time) {
			continue
		}
		dir := b.pair.EntryDirection(s.Correlation, s.RSIA, s.RSIB)
		if dir == strategy.NoEntry {
			continue
		}
		b.enter(s, i, dir)
		lastEntry = s
		hasEntry = true
	}

	if n := len(samples); n > 0 {
		for len(b.active) > 0 {
			b.exit(samples, n-1, 0)
		}
	}

	trades := make([]model.Trade, len(b.trades))
	copy(trades, b.trades)

	return model.BacktestReport{
		StrategyName:     b.cfg.Name,
		Trades:           trades,
		Metrics:          CalculateMetrics(trades, b.cfg.StartingBalance),
		EquityCurve:      EquityCurve(trades, b.cfg.StartingBalance),
		CorrelationStats: CorrelationStatistics(samples),
	}
}

func (b *Backtester) enter(s Sample, i int, dir strategy.Direction) {
	legs := b.pair.Legs(dir)
	longPrice, shortPrice, longRSI, shortRSI := s.CloseB, s.CloseA, s.RSIB, s.RSIA
	if legs.LongIsA() {
		longPrice, shortPrice, longRSI, shortRSI = s.CloseA, s.CloseB, s.RSIA, s.RSIB
	}
	b.active = append(b.active, ActiveTrade{
		Legs:             legs,
		EntryIndex:       i,
		LongEntryPrice:   longPrice,
		ShortEntryPrice:  shortPrice,
		EntryCorrelation: s.Correlation,
		EntryLongRSI:     longRSI,
		EntryShortRSI:    shortRSI,
	})
}

// exitCandidates returns positions into b.active in ascending order.
func (b *Backtester) exitCandidates(samples []Sample, i int) []int {
	if len(b.active) == 0 {
		return nil
	}
	s := samples[i]
	recovered := b.pair.CorrelationRecovered(s.Correlation)

	var out []int
	for idx, t := range b.active {
		if b.pair.HoldingExceeded(samples[t.EntryIndex].Time, s.Time) {
			out = append(out, idx)
			continue
		}
		if !recovered {
			continue
		}
		long, short := b.legProfits(t, s)
		if long+short > 0 {
			out = append(out, idx)
		}
	}
	return out
}

func (b *Backtester) legProfits(t ActiveTrade, s Sample) (float64, float64) {
	longExit, shortExit := legPrices(t.Legs, s)
	long := strategy.LegProfit(t.Legs.Long, t.LongEntryPrice, longExit, t.Legs.LongLot, true)
	short := strategy.LegProfit(t.Legs.Short, t.ShortEntryPrice, shortExit, t.Legs.ShortLot, false)
	return long, short
}

func (b *Backtester) exit(samples []Sample, i, pos int) {
	t := b.active[pos]
	s := samples[i]
	entry := samples[t.EntryIndex]

	longExit, shortExit := legPrices(t.Legs, s)
	exitLongRSI, exitShortRSI := s.RSIB, s.RSIA
	if t.Legs.LongIsA() {
		exitLongRSI, exitShortRSI = s.RSIA, s.RSIB
	}
	long, short := b.legProfits(t, s)

	b.trades = append(b.trades, model.Trade{
		EntryTime:        entry.Time,
		ExitTime:         s.Time,
		LongSymbol:       t.Legs.Long,
		ShortSymbol:      t.Legs.Short,
		LongEntryPrice:   t.LongEntryPrice,
		LongExitPrice:    longExit,
		ShortEntryPrice:  t.ShortEntryPrice,
		ShortExitPrice:   shortExit,
		LongLot:          t.Legs.LongLot,
		ShortLot:         t.Legs.ShortLot,
		EntryCorrelation: t.EntryCorrelation,
		ExitCorrelation:  s.Correlation,
		EntryLongRSI:     t.EntryLongRSI,
		EntryShortRSI:    t.EntryShortRSI,
		ExitLongRSI:      exitLongRSI,
		ExitShortRSI:     exitShortRSI,
		DurationHours:    s.Time.Sub(entry.Time).Hours(),
		LongProfit:       long,
		ShortProfit:      short,
		TotalProfit:      long + short,
	})
	b.active = append(b.active[:pos], b.active[pos+1:]...)
}

func legPrices(legs strategy.Legs, s Sample) (long, short float64) {
	if legs.LongIsA() {
		return s.CloseA, s.CloseB
	}
	return s.CloseB, s.CloseA
}
