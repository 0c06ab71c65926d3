package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"pair-trader/internal/model"
	"pair-trader/internal/strategy"
)

var (
	ErrInsufficientData = errors.New("insufficient price history")
	ErrNoSamples        = errors.New("no common data points after indicator calculation")
)

// Sample is one aligned bar with every indicator available.
type Sample struct {
	Time        time.Time
	CloseA      float64
	CloseB      float64
	Correlation float64
	RSIA        float64
	RSIB        float64
}

// BuildIndex aligns both series on common timestamps, evaluates the
// indicators once for the whole history and keeps only complete samples.
func BuildIndex(cfg model.StrategyConfig, a, b model.PriceSeries) ([]Sample, error) {
	for _, s := range []model.PriceSeries{a, b} {
		if len(s.Bars) < cfg.CorrelationWindow {
			return nil, fmt.Errorf("%w: %s has %d bars, need at least %d",
				ErrInsufficientData, s.Symbol, len(s.Bars), cfg.CorrelationWindow)
		}
	}

	byTime := make(map[int64]float64, len(b.Bars))
	for _, bar := range b.Bars {
		byTime[bar.Timestamp.UnixNano()] = bar.Close
	}

	var (
		times   []time.Time
		closesA []float64
		closesB []float64
	)
	for _, bar := range a.Bars {
		cb, ok := byTime[bar.Timestamp.UnixNano()]
		if !ok {
			continue
		}
		times = append(times, bar.Timestamp)
		closesA = append(closesA, bar.Close)
		closesB = append(closesB, cb)
	}

	rsiA := strategy.RSISeries(closesA, cfg.RSIPeriod)
	rsiB := strategy.RSISeries(closesB, cfg.RSIPeriod)
	corr := strategy.CorrelationSeries(closesA, closesB, cfg.CorrelationWindow)

	samples := make([]Sample, 0, len(times))
	for i, ts := range times {
		if math.IsNaN(rsiA[i]) || math.IsNaN(rsiB[i]) || math.IsNaN(corr[i]) {
			continue
		}
		samples = append(samples, Sample{
			Time:        ts,
			CloseA:      closesA[i],
			CloseB:      closesB[i],
			Correlation: corr[i],
			RSIA:        rsiA[i],
			RSIB:        rsiB[i],
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: try a smaller correlation window than %d or a longer date range",
			ErrNoSamples, cfg.CorrelationWindow)
	}
	return samples, nil
}

// CorrelationStatistics summarises the correlation column of the index.
func CorrelationStatistics(samples []Sample) model.CorrelationStats {
	stats := model.CorrelationStats{TotalPeriods: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	var sum float64
	for _, s := range samples {
		sum += s.Correlation
		if s.Correlation < 0.25 {
			stats.Below025++
		}
		if s.Correlation < 0 {
			stats.Below0++
		}
		if s.Correlation < -0.25 {
			stats.BelowNeg025++
		}
	}
	stats.Mean = sum / float64(len(samples))
	return stats
}
