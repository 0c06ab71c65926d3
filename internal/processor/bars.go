package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pair-trader/internal/model"
	"pair-trader/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BarSink receives completed bars.
type BarSink interface {
	Add(ctx context.Context, bar storage.StoredBar)
}

type candle struct {
	symbol    string
	timeframe int
	bar       model.PriceBar
}

// BarAggregator folds streamed ticks into mid-price bars for every timeframe
// and hands completed bars to the sink, so the database can serve backtests.
type BarAggregator struct {
	sink       BarSink
	logger     *zap.Logger
	timeframes []int
	candles    map[string]*candle
	mu         sync.Mutex
	now        func() time.Time
}

func NewBarAggregator(sink BarSink, timeframes []int, logger *zap.Logger) *BarAggregator {
	if len(timeframes) == 0 {
		timeframes = model.ValidTimeframes
	}
	return &BarAggregator{
		sink:       sink,
		logger:     logger,
		timeframes: timeframes,
		candles:    make(map[string]*candle),
		now:        time.Now,
	}
}

// OnTick updates the open candle of every timeframe. Volume counts ticks.
func (p *BarAggregator) OnTick(tick model.Tick) {
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return
	}
	mid := decimal.NewFromFloat(tick.Bid).Add(decimal.NewFromFloat(tick.Ask)).Div(decimal.NewFromInt(2)).InexactFloat64()
	ts := tick.Time.UTC()
	if ts.IsZero() {
		ts = p.now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tf := range p.timeframes {
		window := ts.Truncate(time.Duration(tf) * time.Minute)
		key := fmt.Sprintf("%s:%d:%d", tick.Symbol, tf, window.Unix())

		c, ok := p.candles[key]
		if !ok {
			p.candles[key] = &candle{
				symbol:    tick.Symbol,
				timeframe: tf,
				bar: model.PriceBar{
					Timestamp: window,
					Open:      mid,
					High:      mid,
					Low:       mid,
					Close:     mid,
					Volume:    1,
				},
			}
			continue
		}
		if mid > c.bar.High {
			c.bar.High = mid
		}
		if mid < c.bar.Low {
			c.bar.Low = mid
		}
		c.bar.Close = mid
		c.bar.Volume++
	}
}

// Run flushes completed candles every interval until ctx is done.
func (p *BarAggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.logger.Info("bar aggregator started", zap.Ints("timeframes", p.timeframes))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *BarAggregator) flush(ctx context.Context) {
	p.mu.Lock()
	now := p.now()
	toFlush := make([]*candle, 0)
	for key, c := range p.candles {
		// a candle is complete once its window has ended
		end := c.bar.Timestamp.Add(time.Duration(c.timeframe) * time.Minute)
		if !end.After(now) {
			toFlush = append(toFlush, c)
			delete(p.candles, key)
		}
	}
	p.mu.Unlock()

	for _, c := range toFlush {
		p.sink.Add(ctx, storage.StoredBar{Symbol: c.symbol, Timeframe: c.timeframe, Bar: c.bar})
	}
}
