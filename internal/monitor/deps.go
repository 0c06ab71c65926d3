package monitor

import (
	"context"

	"pair-trader/internal/model"
)

// Quotes is the market data the monitor reads. Satisfied by *market.DataAccess.
type Quotes interface {
	LatestTick(ctx context.Context, symbol string) (model.Tick, error)
	RecentBars(ctx context.Context, symbol string, timeframe, count int) ([]model.PriceBar, error)
}

// Executor is the order execution venue and the source of truth for positions.
type Executor interface {
	Send(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)
	Positions(ctx context.Context, magic int64) ([]model.MonitoredPosition, error)
}

// Publisher receives every snapshot a monitor computes.
type Publisher interface {
	Publish(strategyID string, snap model.IndicatorSnapshot)
}

// TradeRecorder is told about each pair the monitor closes.
type TradeRecorder interface {
	RecordLiveTrade(ctx context.Context, strategyID string, trade model.Trade) error
}
