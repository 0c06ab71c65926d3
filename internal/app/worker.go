package app

import (
	"context"
	"encoding/json"
	"time"

	"pair-trader/internal/connector"
	"pair-trader/internal/model"
	"pair-trader/internal/push"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// startTickWorker streams ticks for STREAM_SYMBOLS into the shared tick cache
// and, when a database is configured, into the bar store.
func (a *App) startTickWorker(ctx context.Context) {
	symbols := a.Config.Symbols()
	if len(symbols) == 0 {
		a.Logger.Info("no stream symbols configured, tick worker disabled")
		return
	}
	for i, s := range symbols {
		symbols[i] = model.NormalizeSymbol(s)
	}

	stream, err := connector.NewTickStream(a.Config.BridgeURL, symbols, a.Logger)
	if err != nil {
		a.Logger.Error("invalid bridge url for tick stream", zap.Error(err))
		return
	}
	bars := a.newBarPipeline(ctx)

	go stream.Run(ctx, func(tick model.Tick) {
		tick.Symbol = model.NormalizeSymbol(tick.Symbol)
		a.Ticks.Put(tick.Symbol, tick, time.Now())
		if bars != nil {
			bars.OnTick(tick)
		}
	})
}

// startPersistenceService subscribes to finalized live trades and saves them to the database
func (a *App) startPersistenceService() error {
	_, err := a.JS.Subscribe("pairtrader.trade.*", func(m *nats.Msg) {
		var ev push.TradeEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			a.Logger.Error("failed to unmarshal live trade", zap.Error(err))
			m.Term()
			return
		}
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := a.Store.RecordLiveTrade(ctx, ev.StrategyID, ev.Trade); err != nil {
			a.Logger.Error("failed to save live trade", zap.String("strategy_id", ev.StrategyID), zap.Error(err))
			m.Nak()
			return
		}
		m.Ack()
	}, nats.Durable("live_trade_saver"), nats.ManualAck())
	return err
}
