package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	CacheTTL         time.Duration
	StaleMax         time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	ChunkSize        int // bars per history request
	RecentTickWindow time.Duration
	RecentTickLimit  int
}

func DefaultOptions() Options {
	return Options{
		CacheTTL:         time.Second,
		StaleMax:         5 * time.Second,
		MaxRetries:       3,
		RetryDelay:       100 * time.Millisecond,
		ChunkSize:        10000,
		RecentTickWindow: 5 * time.Second,
		RecentTickLimit:  100,
	}
}

// DataAccess wraps a PriceFeed with the tick cache, bounded retries and the
// connection guard.
type DataAccess struct {
	feed   PriceFeed
	conn   *Connection
	cache  *TickCache
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDataAccess(feed PriceFeed, conn *Connection, cache *TickCache, opts Options, logger *zap.Logger) *DataAccess {
	def := DefaultOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.StaleMax <= 0 {
		opts.StaleMax = def.StaleMax
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.RecentTickWindow <= 0 {
		opts.RecentTickWindow = def.RecentTickWindow
	}
	if opts.RecentTickLimit <= 0 {
		opts.RecentTickLimit = def.RecentTickLimit
	}
	return &DataAccess{
		feed:   feed,
		conn:   conn,
		cache:  cache,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LatestTick serves a fresh cache entry, then queries the feed with retries,
// then falls back to a cache entry younger than StaleMax.
func (d *DataAccess) LatestTick(ctx context.Context, symbol string) (model.Tick, error) {
	if tick, at, ok := d.cache.Get(symbol); ok && d.now().Sub(at) < d.opts.CacheTTL {
		infrastructure.TickCacheResults.WithLabelValues("hit").Inc()
		return tick, nil
	}
	infrastructure.TickCacheResults.WithLabelValues("miss").Inc()

	tick, err := retry(ctx, d, "latest_tick", func() (model.Tick, error) {
		return d.fetchTick(ctx, symbol)
	})
	if err == nil {
		d.cache.Put(symbol, tick, d.now())
		return tick, nil
	}
	if ctx.Err() != nil {
		return model.Tick{}, ctx.Err()
	}

	if cached, at, ok := d.cache.Get(symbol); ok && d.now().Sub(at) < d.opts.StaleMax {
		infrastructure.TickCacheResults.WithLabelValues("stale").Inc()
		d.logger.Warn("serving stale tick",
			zap.String("symbol", symbol),
			zap.Duration("age", d.now().Sub(at)),
			zap.Error(err))
		return cached, nil
	}
	return model.Tick{}, fmt.Errorf("%w: tick %s: %v", ErrFeedUnavailable, symbol, err)
}

func (d *DataAccess) fetchTick(ctx context.Context, symbol string) (model.Tick, error) {
	if err := d.conn.Ensure(ctx); err != nil {
		return model.Tick{}, err
	}
	tick, err := d.feed.LatestTick(ctx, symbol)
	if err == nil {
		return tick, nil
	}

	// point query failed, try the recent tick window
	ticks, rerr := d.feed.RecentTicks(ctx, symbol, d.now().Add(-d.opts.RecentTickWindow), d.opts.RecentTickLimit)
	if rerr != nil {
		return model.Tick{}, fmt.Errorf("latest tick: %v; recent ticks: %w", err, rerr)
	}
	if len(ticks) == 0 {
		return model.Tick{}, fmt.Errorf("latest tick: %v; recent ticks: %w", err, ErrNoData)
	}
	return ticks[len(ticks)-1], nil
}

// RecentBars returns the last count closed bars for symbol.
func (d *DataAccess) RecentBars(ctx context.Context, symbol string, timeframe, count int) ([]model.PriceBar, error) {
	bars, err := retry(ctx, d, "recent_bars", func() ([]model.PriceBar, error) {
		if err := d.conn.Ensure(ctx); err != nil {
			return nil, err
		}
		bars, err := d.feed.RecentBars(ctx, symbol, timeframe, count)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, ErrNoData
		}
		return bars, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bars %s: %v", ErrFeedUnavailable, symbol, err)
	}
	return bars, nil
}

// History loads [start, end] in chunks of ChunkSize bars. Bars are sorted
// and de-duplicated on timestamp since chunk boundaries are inclusive.
func (d *DataAccess) History(ctx context.Context, symbol string, timeframe int, start, end time.Time) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: symbol, Timeframe: timeframe}
	if !end.After(start) {
		return series, fmt.Errorf("history %s: end %s not after start %s", symbol, end, start)
	}
	span := time.Duration(timeframe) * time.Minute * time.Duration(d.opts.ChunkSize)

	var bars []model.PriceBar
	for cur := start; cur.Before(end); {
		chunkEnd := cur.Add(span)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		from := cur
		chunk, err := retry(ctx, d, "history", func() ([]model.PriceBar, error) {
			if err := d.conn.Ensure(ctx); err != nil {
				return nil, err
			}
			return d.feed.Bars(ctx, symbol, timeframe, from, chunkEnd)
		})
		if err != nil {
			return series, fmt.Errorf("%w: history %s %s..%s: %v", ErrFeedUnavailable, symbol,
				from.Format(time.RFC3339), chunkEnd.Format(time.RFC3339), err)
		}
		bars = append(bars, chunk...)
		cur = chunkEnd
	}

	series.Bars = dedupeBars(bars)
	if len(series.Bars) == 0 {
		return series, fmt.Errorf("%w: %s between %s and %s", ErrNoData, symbol,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	d.logger.Debug("history loaded", zap.String("symbol", symbol), zap.Int("bars", len(series.Bars)))
	return series, nil
}

// LoadPair fetches both legs concurrently.
func (d *DataAccess) LoadPair(ctx context.Context, symbolA, symbolB string, timeframe int, start, end time.Time) (model.PriceSeries, model.PriceSeries, error) {
	var a, b model.PriceSeries
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = d.History(gctx, symbolA, timeframe, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = d.History(gctx, symbolB, timeframe, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.PriceSeries{}, model.PriceSeries{}, err
	}
	return a, b, nil
}

// retry runs fn up to MaxRetries times with RetryDelay between attempts.
func retry[T any](ctx context.Context, d *DataAccess, query string, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		infrastructure.FeedRetries.WithLabelValues(query).Inc()
		d.logger.Debug("feed query failed",
			zap.String("query", query),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.opts.MaxRetries {
			if err := d.sleep(ctx, d.opts.RetryDelay); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}

func dedupeBars(bars []model.PriceBar) []model.PriceBar {
	if len(bars) == 0 {
		return nil
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}
