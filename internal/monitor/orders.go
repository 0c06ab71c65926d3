package monitor

import (
	"context"
	"errors"
	"fmt"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/market"
	"pair-trader/internal/model"

	"go.uber.org/zap"
)

var ErrOrderRejected = errors.New("order rejected for every fill mode")

const defaultDeviation = 10

// OrderRouter sends orders through the connection guard, trying every fill
// mode in turn until the venue answers DONE.
type OrderRouter struct {
	exec   Executor
	conn   *market.Connection
	quotes Quotes
	logger *zap.Logger
}

func NewOrderRouter(exec Executor, conn *market.Connection, quotes Quotes, logger *zap.Logger) *OrderRouter {
	return &OrderRouter{exec: exec, conn: conn, quotes: quotes, logger: logger}
}

// Open places a market order. The returned price is the quote it was sent at.
func (r *OrderRouter) Open(ctx context.Context, symbol string, lot float64, side model.Side, magic int64, comment string) (model.OrderResult, float64, error) {
	tick, err := r.quotes.LatestTick(ctx, symbol)
	if err != nil {
		return model.OrderResult{}, 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	price := tick.Bid
	if side == model.SideBuy {
		price = tick.Ask
	}
	req := model.OrderRequest{
		Symbol:    symbol,
		Volume:    lot,
		Side:      side,
		Price:     price,
		MagicID:   magic,
		Comment:   comment,
		Deviation: defaultDeviation,
	}
	res, err := r.send(ctx, "open", req)
	return res, price, err
}

// Close sends the opposite order for pos. The price is zero when no quote was available.
func (r *OrderRouter) Close(ctx context.Context, pos model.MonitoredPosition, comment string) (float64, error) {
	side := pos.Side.Opposite()
	req := model.OrderRequest{
		Symbol:    pos.Symbol,
		Volume:    pos.Volume,
		Side:      side,
		MagicID:   pos.MagicID,
		Comment:   comment,
		Position:  pos.Ticket,
		Deviation: defaultDeviation,
	}
	if tick, err := r.quotes.LatestTick(ctx, pos.Symbol); err == nil {
		req.Price = tick.Bid
		if side == model.SideBuy {
			req.Price = tick.Ask
		}
	} else {
		r.logger.Warn("closing without quote", zap.Uint64("ticket", pos.Ticket), zap.Error(err))
	}
	_, err := r.send(ctx, "close", req)
	return req.Price, err
}

// Positions lists the broker positions tagged with magic.
func (r *OrderRouter) Positions(ctx context.Context, magic int64) ([]model.MonitoredPosition, error) {
	if err := r.conn.Ensure(ctx); err != nil {
		return nil, err
	}
	return r.exec.Positions(ctx, magic)
}

func (r *OrderRouter) send(ctx context.Context, action string, req model.OrderRequest) (model.OrderResult, error) {
	if err := r.conn.Ensure(ctx); err != nil {
		return model.OrderResult{}, err
	}

	var last model.OrderResult
	var lastErr error
	for _, mode := range model.FillModes {
		req.FillMode = mode
		res, err := r.exec.Send(ctx, req)
		if err == nil && res.Done() {
			infrastructure.OrdersSent.WithLabelValues(action, "done").Inc()
			r.logger.Info("order filled",
				zap.String("action", action),
				zap.String("symbol", req.Symbol),
				zap.String("side", string(req.Side)),
				zap.Float64("volume", req.Volume),
				zap.String("filling", string(mode)),
				zap.Uint64("ticket", res.Ticket))
			return res, nil
		}
		last, lastErr = res, err
		r.logger.Warn("order attempt failed",
			zap.String("action", action),
			zap.String("symbol", req.Symbol),
			zap.String("filling", string(mode)),
			zap.Int("retcode", res.Retcode),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	infrastructure.OrdersSent.WithLabelValues(action, "rejected").Inc()
	if lastErr != nil {
		return last, fmt.Errorf("%w: %s %s: %v", ErrOrderRejected, action, req.Symbol, lastErr)
	}
	return last, fmt.Errorf("%w: %s %s: retcode %d %s", ErrOrderRejected, action, req.Symbol, last.Retcode, last.Comment)
}
