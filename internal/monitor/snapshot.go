package monitor

import (
	"context"
	"fmt"

	"pair-trader/internal/market"
	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// Snapshotter computes live indicator values from the most recent bars.
type Snapshotter struct {
	quotes Quotes
}

func NewSnapshotter(quotes Quotes) *Snapshotter {
	return &Snapshotter{quotes: quotes}
}

// barCount is enough closed bars for both indicators.
func barCount(cfg model.StrategyConfig) int {
	n := cfg.RSIPeriod + 1
	if cfg.CorrelationWindow > n {
		n = cfg.CorrelationWindow
	}
	return n
}

// Indicators fetches both legs and evaluates RSI per leg and correlation over
// the bars both legs share. Unavailable values are left nil.
func (s *Snapshotter) Indicators(ctx context.Context, cfg model.StrategyConfig) (model.IndicatorSnapshot, error) {
	snap := model.IndicatorSnapshot{
		StrategyID: cfg.ID,
		SymbolA:    cfg.SymbolA(),
		SymbolB:    cfg.SymbolB(),
		Thresholds: cfg.Thresholds(),
	}

	count := barCount(cfg)
	var barsA, barsB []model.PriceBar
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		barsA, err = s.quotes.RecentBars(gctx, cfg.SymbolA(), cfg.Timeframe, count)
		return err
	})
	g.Go(func() (err error) {
		barsB, err = s.quotes.RecentBars(gctx, cfg.SymbolB(), cfg.Timeframe, count)
		return err
	})
	if err := g.Wait(); err != nil {
		return snap, fmt.Errorf("indicator bars: %w", err)
	}
	if len(barsA) == 0 || len(barsB) == 0 {
		return snap, fmt.Errorf("indicator bars: %w", market.ErrNoData)
	}

	closesA := model.PriceSeries{Bars: barsA}.Closes()
	closesB := model.PriceSeries{Bars: barsB}.Closes()
	snap.RSIA = model.OptionalFloat(strategy.RSI(closesA, cfg.RSIPeriod))
	snap.RSIB = model.OptionalFloat(strategy.RSI(closesB, cfg.RSIPeriod))

	alignedA, alignedB := alignCloses(barsA, barsB)
	snap.Correlation = model.OptionalFloat(strategy.Correlation(alignedA, alignedB, cfg.CorrelationWindow))

	latest := barsA[len(barsA)-1].Timestamp
	if t := barsB[len(barsB)-1].Timestamp; t.After(latest) {
		latest = t
	}
	snap.Timestamp = latest
	return snap, nil
}

// Prices returns the current bid of each leg.
func (s *Snapshotter) Prices(ctx context.Context, cfg model.StrategyConfig) (map[string]float64, error) {
	out := make(map[string]float64, 2)
	for _, sym := range cfg.Symbols {
		tick, err := s.quotes.LatestTick(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = tick.Bid
	}
	return out, nil
}

func alignCloses(a, b []model.PriceBar) ([]float64, []float64) {
	byTime := make(map[int64]float64, len(b))
	for _, bar := range b {
		byTime[bar.Timestamp.UnixNano()] = bar.Close
	}
	var outA, outB []float64
	for _, bar := range a {
		if cb, ok := byTime[bar.Timestamp.UnixNano()]; ok {
			outA = append(outA, bar.Close)
			outB = append(outB, cb)
		}
	}
	return outA, outB
}
