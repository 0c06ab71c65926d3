package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"pair-trader/internal/model"
)

var errFeed = errors.New("feed down")

type fakeFeed struct {
	mu          sync.Mutex
	tick        model.Tick
	tickErr     error
	recent      []model.Tick
	recentErr   error
	bars        map[string][]model.PriceBar
	barsErr     error
	tickCalls   int
	recentCalls int
	barCalls    int
}

func (f *fakeFeed) LatestTick(_ context.Context, symbol string) (model.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickCalls++
	if f.tickErr != nil {
		return model.Tick{}, f.tickErr
	}
	t := f.tick
	t.Symbol = symbol
	return t, nil
}

func (f *fakeFeed) RecentTicks(_ context.Context, _ string, _ time.Time, _ int) ([]model.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls++
	return f.recent, f.recentErr
}

func (f *fakeFeed) Bars(_ context.Context, symbol string, _ int, start, end time.Time) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barCalls++
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	var out []model.PriceBar
	for _, b := range f.bars[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeFeed) RecentBars(_ context.Context, symbol string, _ int, count int) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	bars := f.bars[symbol]
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

type fakeTerminal struct {
	mu        sync.Mutex
	connected bool
	initErr   error
	inits     int
	shutdowns int
	// reconnect flips connected back on at Initialize
	reconnect bool
}

func (t *fakeTerminal) Initialize(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inits++
	if t.initErr != nil {
		return t.initErr
	}
	if t.reconnect {
		t.connected = true
	}
	return nil
}

func (t *fakeTerminal) Shutdown(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdowns++
	return nil
}

func (t *fakeTerminal) Info(context.Context) (model.TerminalInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.TerminalInfo{Connected: t.connected}, nil
}

// fakeClock advances only when told to, or by the injected sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}
