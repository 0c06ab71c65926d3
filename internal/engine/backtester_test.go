package engine

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func scenarioConfig() model.StrategyConfig {
	return model.StrategyConfig{
		ID:                "bt",
		Name:              "EURUSD/GBPUSD",
		Symbols:           []string{"EURUSD", "GBPUSD"},
		Lots:              []float64{1.0, 1.0},
		Timeframe:         60,
		RSIPeriod:         14,
		CorrelationWindow: 20,
		RSIOverbought:     70,
		RSIOversold:       30,
		EntryThreshold:    -0.3,
		ExitThreshold:     0.1,
		CooldownHours:     24,
		MagicID:           42,
		StartingBalance:   10000,
	}
}

func neutral(i int) Sample {
	return Sample{
		Time:        t0.Add(time.Duration(i) * time.Hour),
		CloseA:      1.1000,
		CloseB:      1.3000,
		Correlation: 0.0,
		RSIA:        50,
		RSIB:        50,
	}
}

func newTestBacktester(t *testing.T, cfg model.StrategyConfig) *Backtester {
	pair, err := strategy.NewPair(cfg)
	require.NoError(t, err)
	return NewBacktester(pair)
}

func TestBacktester_EntryAndRecoveryExit(t *testing.T) {
	samples := make([]Sample, 20)
	for i := range samples {
		samples[i] = neutral(i)
	}
	// k=3: A overbought, B oversold, negative regime
	samples[3].RSIA, samples[3].RSIB, samples[3].Correlation = 75, 25, -0.5
	// B rallies, A falls: both legs in profit from k+1 on
	for i := 4; i < 20; i++ {
		samples[i].CloseA = 1.0990
		samples[i].CloseB = 1.3010
	}
	// correlation recovers only at k+10
	samples[13].Correlation = 0.2

	report := newTestBacktester(t, scenarioConfig()).Run(samples)
	require.Len(t, report.Trades, 1)

	tr := report.Trades[0]
	assert.Equal(t, "GBPUSD", tr.LongSymbol)
	assert.Equal(t, "EURUSD", tr.ShortSymbol)
	assert.Equal(t, samples[3].Time, tr.EntryTime)
	assert.Equal(t, samples[13].Time, tr.ExitTime)
	assert.Equal(t, 10.0, tr.DurationHours)
	assert.Equal(t, 75.0, tr.EntryShortRSI)
	assert.Equal(t, 25.0, tr.EntryLongRSI)
	assert.InDelta(t, 100.0, tr.LongProfit, 1e-6)
	assert.InDelta(t, 100.0, tr.ShortProfit, 1e-6)
	assert.Equal(t, tr.LongProfit+tr.ShortProfit, tr.TotalProfit)
	assert.Equal(t, 0.2, tr.ExitCorrelation)
}

func TestBacktester_HoldsLosingTradeUntilEnd(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = neutral(i)
	}
	samples[1].RSIA, samples[1].RSIB, samples[1].Correlation = 25, 75, -0.6
	for i := 2; i < 10; i++ {
		samples[i].CloseA = 1.0950 // long A loses
		samples[i].Correlation = 0.5
	}

	report := newTestBacktester(t, scenarioConfig()).Run(samples)
	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, "EURUSD", tr.LongSymbol)
	assert.Equal(t, samples[9].Time, tr.ExitTime, "force closed on the last sample")
	assert.Less(t, tr.TotalProfit, 0.0)
	assert.Equal(t, 0, report.Metrics.WinningTrades)
	assert.Equal(t, 1, report.Metrics.LosingTrades)
}

func TestBacktester_MaxHoldingOverride(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxHoldingHours = 4

	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = neutral(i)
		samples[i].CloseA = 1.0950
	}
	samples[0].CloseA = 1.1000
	samples[0].RSIA, samples[0].RSIB, samples[0].Correlation = 25, 75, -0.6

	report := newTestBacktester(t, cfg).Run(samples)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, samples[4].Time, report.Trades[0].ExitTime)
}

func TestBacktester_Cooldown(t *testing.T) {
	cfg := scenarioConfig()
	cfg.CooldownHours = 5

	samples := make([]Sample, 30)
	for i := range samples {
		samples[i] = neutral(i)
		// every bar qualifies for entry, correlation never recovers
		samples[i].RSIA, samples[i].RSIB, samples[i].Correlation = 75, 25, -0.5
		samples[i].CloseB = 1.3000 + 0.0001*float64(i)
		samples[i].CloseA = 1.1000 - 0.0001*float64(i)
	}

	report := newTestBacktester(t, cfg).Run(samples)
	require.NotEmpty(t, report.Trades)
	for i := 1; i < len(report.Trades); i++ {
		gap := report.Trades[i].EntryTime.Sub(report.Trades[i-1].EntryTime)
		assert.GreaterOrEqual(t, gap, cfg.Cooldown())
	}
	assert.Len(t, report.Trades, 6)
}

func TestBacktester_SkipsAmbiguousSignals(t *testing.T) {
	samples := []Sample{neutral(0), neutral(1), neutral(2)}
	samples[0].RSIA, samples[0].RSIB, samples[0].Correlation = 80, 75, -0.9
	samples[1].RSIA, samples[1].RSIB, samples[1].Correlation = 20, 25, -0.9
	samples[2].RSIA, samples[2].RSIB, samples[2].Correlation = 80, 20, 0.5

	report := newTestBacktester(t, scenarioConfig()).Run(samples)
	assert.Empty(t, report.Trades)
	assert.Equal(t, 10000.0, report.Metrics.FinalBalance)
	assert.Equal(t, 10000.0, report.Metrics.PeakBalance)
	assert.Empty(t, report.EquityCurve)
}

func synthetic(n int) (model.PriceSeries, model.PriceSeries) {
	a := model.PriceSeries{Symbol: "EURUSD", Timeframe: 60}
	b := model.PriceSeries{Symbol: "USDJPY", Timeframe: 60}
	for i := 0; i < n; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		x := float64(i)
		a.Bars = append(a.Bars, model.PriceBar{Timestamp: ts, Close: 1.1 + 0.01*math.Sin(x/5) + 0.002*math.Sin(x*1.7)})
		b.Bars = append(b.Bars, model.PriceBar{Timestamp: ts, Close: 150 + 1.5*math.Cos(x/7) + 0.3*math.Sin(x*2.3)})
	}
	return a, b
}

func TestBacktester_Deterministic(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Symbols = []string{"EURUSD", "USDJPY"}
	cfg.EntryThreshold = 0.5
	cfg.CooldownHours = 6
	a, b := synthetic(600)

	run := func() []byte {
		samples, err := BuildIndex(cfg, a, b)
		require.NoError(t, err)
		report := newTestBacktester(t, cfg).Run(samples)
		out, err := json.Marshal(struct {
			Trades  []model.Trade
			Metrics model.PerformanceMetrics
		}{report.Trades, report.Metrics})
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, run(), run())
}

func TestBacktester_Invariants(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Symbols = []string{"EURUSD", "USDJPY"}
	cfg.EntryThreshold = 0.5
	cfg.CooldownHours = 6
	a, b := synthetic(800)

	samples, err := BuildIndex(cfg, a, b)
	require.NoError(t, err)
	report := newTestBacktester(t, cfg).Run(samples)

	for i, tr := range report.Trades {
		assert.Equal(t, tr.LongProfit+tr.ShortProfit, tr.TotalProfit)
		assert.Equal(t, strategy.LegProfit(tr.LongSymbol, tr.LongEntryPrice, tr.LongExitPrice, tr.LongLot, true), tr.LongProfit)
		assert.Equal(t, strategy.LegProfit(tr.ShortSymbol, tr.ShortEntryPrice, tr.ShortExitPrice, tr.ShortLot, false), tr.ShortProfit)
		if i > 0 {
			assert.GreaterOrEqual(t, tr.EntryTime.Sub(report.Trades[i-1].EntryTime), cfg.Cooldown())
		}
	}

	// replay the equity curve; no drawdown may exceed the reported maximum
	peak := cfg.StartingBalance
	for _, p := range report.EquityCurve {
		peak = math.Max(peak, p.Equity)
		dd := (peak - p.Equity) / peak * 100
		assert.LessOrEqual(t, dd, report.Metrics.MaxDrawdownPercentage+1e-9)
	}
}
