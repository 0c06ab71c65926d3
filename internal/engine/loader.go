package engine

import (
	"context"
	"fmt"
	"time"

	"pair-trader/internal/model"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DataLoader reads archived bars from market_klines. It is an alternative
// bar source to the live feed for repeatable backtests.
type DataLoader struct {
	pool *pgxpool.Pool
}

func NewDataLoader(pool *pgxpool.Pool) *DataLoader {
	return &DataLoader{pool: pool}
}

func (l *DataLoader) LoadCandles(ctx context.Context, symbol string, timeframe int, start, end time.Time) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: symbol, Timeframe: timeframe}
	rows, err := l.pool.Query(ctx, `
		SELECT time, open, high, low, close, volume
		FROM market_klines
		WHERE symbol = $1 AND timeframe = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`,
		symbol, timeframe, start, end)
	if err != nil {
		return series, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts                               time.Time
			open, high, low, closePx, volume decimal.Decimal
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closePx, &volume); err != nil {
			return series, err
		}
		series.Bars = append(series.Bars, model.PriceBar{
			Timestamp: ts.UTC(),
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     closePx.InexactFloat64(),
			Volume:    volume.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return series, err
	}
	if len(series.Bars) == 0 {
		return series, fmt.Errorf("%w: no stored bars for %s", ErrInsufficientData, symbol)
	}
	return series, nil
}

func (l *DataLoader) LoadPair(ctx context.Context, symbolA, symbolB string, timeframe int, start, end time.Time) (model.PriceSeries, model.PriceSeries, error) {
	var a, b model.PriceSeries
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		a, err = l.LoadCandles(gctx, symbolA, timeframe, start, end)
		return err
	})
	g.Go(func() (err error) {
		b, err = l.LoadCandles(gctx, symbolB, timeframe, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.PriceSeries{}, model.PriceSeries{}, err
	}
	return a, b, nil
}
