package market

import (
	"context"
	"errors"
	"time"

	"pair-trader/internal/model"
)

var (
	// ErrFeedUnavailable is returned once retries and the stale cache are exhausted.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	// ErrNoData means the feed answered but had nothing for the query.
	ErrNoData = errors.New("no market data")
)

// PriceFeed answers point and range queries. Every call may fail transiently.
type PriceFeed interface {
	LatestTick(ctx context.Context, symbol string) (model.Tick, error)
	RecentTicks(ctx context.Context, symbol string, since time.Time, limit int) ([]model.Tick, error)
	Bars(ctx context.Context, symbol string, timeframe int, start, end time.Time) ([]model.PriceBar, error)
	RecentBars(ctx context.Context, symbol string, timeframe, count int) ([]model.PriceBar, error)
}

// Terminal is the trading terminal session behind the feed and the executor.
type Terminal interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Info(ctx context.Context) (model.TerminalInfo, error)
}
