package market

import (
	"context"
	"testing"
	"time"

	"pair-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAccess(feed *fakeFeed, term *fakeTerminal, clock *fakeClock) *DataAccess {
	logger := zap.NewNop()
	d := NewDataAccess(feed, NewConnection(term, logger), NewTickCache(), DefaultOptions(), logger)
	d.now = clock.Now
	d.sleep = clock.Sleep
	return d
}

func TestLatestTick_CacheHit(t *testing.T) {
	feed := &fakeFeed{tick: model.Tick{Bid: 1.1, Ask: 1.1002}}
	clock := &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, clock)

	_, err := d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	_, err = d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1, feed.tickCalls)

	clock.Advance(600 * time.Millisecond)
	_, err = d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 2, feed.tickCalls, "entry older than the ttl is refreshed")
}

func TestLatestTick_FallsBackToRecentTicks(t *testing.T) {
	feed := &fakeFeed{
		tickErr: errFeed,
		recent: []model.Tick{
			{Symbol: "EURUSD", Bid: 1.0},
			{Symbol: "EURUSD", Bid: 1.2},
		},
	}
	clock := &fakeClock{now: time.Now()}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, clock)

	tick, err := d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.2, tick.Bid)
	assert.Equal(t, 1, feed.recentCalls)
}

func TestLatestTick_StaleAfterThreeFailures(t *testing.T) {
	feed := &fakeFeed{tick: model.Tick{Bid: 1.25, Ask: 1.2502}}
	clock := &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, clock)

	first, err := d.LatestTick(context.Background(), "GBPUSD")
	require.NoError(t, err)

	feed.mu.Lock()
	feed.tickErr = errFeed
	feed.recentErr = errFeed
	feed.tickCalls = 0
	feed.mu.Unlock()

	clock.Advance(2 * time.Second)
	got, err := d.LatestTick(context.Background(), "GBPUSD")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, 3, feed.tickCalls)
}

func TestLatestTick_UnavailableWhenCacheTooOld(t *testing.T) {
	feed := &fakeFeed{tick: model.Tick{Bid: 1.25}}
	clock := &fakeClock{now: time.Now()}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, clock)

	_, err := d.LatestTick(context.Background(), "GBPUSD")
	require.NoError(t, err)

	feed.tickErr = errFeed
	feed.recentErr = errFeed
	clock.Advance(6 * time.Second)
	_, err = d.LatestTick(context.Background(), "GBPUSD")
	assert.ErrorIs(t, err, ErrFeedUnavailable)

	_, err = d.LatestTick(context.Background(), "USDJPY")
	assert.ErrorIs(t, err, ErrFeedUnavailable, "nothing cached at all")
}

func TestHistory_Chunked(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []model.PriceBar
	for i := 0; i < 50; i++ {
		bars = append(bars, model.PriceBar{Timestamp: start.Add(time.Duration(i) * time.Hour), Close: float64(i)})
	}
	feed := &fakeFeed{bars: map[string][]model.PriceBar{"EURUSD": bars}}
	clock := &fakeClock{now: time.Now()}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, clock)
	d.opts.ChunkSize = 10

	series, err := d.History(context.Background(), "EURUSD", 60, start, start.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Len(t, series.Bars, 50)
	assert.Equal(t, 5, feed.barCalls)
	for i := 1; i < len(series.Bars); i++ {
		assert.True(t, series.Bars[i].Timestamp.After(series.Bars[i-1].Timestamp))
	}
}

func TestHistory_NoData(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]model.PriceBar{}}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, &fakeClock{now: time.Now()})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := d.History(context.Background(), "EURUSD", 60, start, start.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadPair_PropagatesFailure(t *testing.T) {
	feed := &fakeFeed{barsErr: errFeed}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, &fakeClock{now: time.Now()})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := d.LoadPair(context.Background(), "EURUSD", "GBPUSD", 60, start, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestRecentBars(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []model.PriceBar{
		{Timestamp: start, Close: 1},
		{Timestamp: start.Add(time.Hour), Close: 2},
		{Timestamp: start.Add(2 * time.Hour), Close: 3},
	}
	feed := &fakeFeed{bars: map[string][]model.PriceBar{"EURUSD": bars}}
	d := newTestAccess(feed, &fakeTerminal{connected: true}, &fakeClock{now: time.Now()})

	got, err := d.RecentBars(context.Background(), "EURUSD", 60, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, model.PriceSeries{Bars: got}.Closes())

	_, err = d.RecentBars(context.Background(), "GBPUSD", 60, 2)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestNewDataAccess_ZeroOptionsKeepCacheAndStaleFallback(t *testing.T) {
	logger := zap.NewNop()
	feed := &fakeFeed{tick: model.Tick{Bid: 1.1, Ask: 1.1002}}
	clock := &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	d := NewDataAccess(feed, NewConnection(&fakeTerminal{connected: true}, logger), NewTickCache(), Options{}, logger)
	d.now = clock.Now
	d.sleep = clock.Sleep

	def := DefaultOptions()
	assert.Equal(t, def.CacheTTL, d.opts.CacheTTL)
	assert.Equal(t, def.StaleMax, d.opts.StaleMax)

	_, err := d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	_, err = d.LatestTick(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1, feed.tickCalls, "second read served from cache")
}
