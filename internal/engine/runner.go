package engine

import (
	"context"
	"fmt"
	"time"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BarSource provides the two legs of history for a backtest.
type BarSource interface {
	LoadPair(ctx context.Context, symbolA, symbolB string, timeframe int, start, end time.Time) (model.PriceSeries, model.PriceSeries, error)
}

// ReportSink persists finished reports. Optional.
type ReportSink interface {
	SaveBacktest(ctx context.Context, cfg model.StrategyConfig, start, end time.Time, report model.BacktestReport) error
}

// Runner performs one backtest request end to end.
type Runner struct {
	source BarSource
	sink   ReportSink
	logger *zap.Logger
}

func NewRunner(source BarSource, sink ReportSink, logger *zap.Logger) *Runner {
	return &Runner{source: source, sink: sink, logger: logger}
}

func (r *Runner) Run(ctx context.Context, cfg model.StrategyConfig, start, end time.Time) (model.BacktestReport, error) {
	pair, err := strategy.NewStrategy(cfg)
	if err != nil {
		return model.BacktestReport{}, err
	}
	cfg = pair.Config()
	if !end.After(start) {
		return model.BacktestReport{}, fmt.Errorf("%w: end date must be after start date", model.ErrInvalidConfig)
	}

	began := time.Now()
	a, b, err := r.source.LoadPair(ctx, cfg.SymbolA(), cfg.SymbolB(), cfg.Timeframe, start, end)
	if err != nil {
		return model.BacktestReport{}, fmt.Errorf("load history: %w", err)
	}

	samples, err := BuildIndex(cfg, a, b)
	if err != nil {
		return model.BacktestReport{}, err
	}

	report := NewBacktester(pair).Run(samples)
	report.RunID = uuid.NewString()
	infrastructure.BacktestLatency.Observe(time.Since(began).Seconds())

	r.logger.Info("backtest finished",
		zap.String("run_id", report.RunID),
		zap.String("pair", cfg.Name),
		zap.Int("samples", len(samples)),
		zap.Int("trades", report.Metrics.TotalTrades),
		zap.Float64("net_profit", report.Metrics.NetProfitDollars),
		zap.Duration("elapsed", time.Since(began)))

	if r.sink != nil {
		if err := r.sink.SaveBacktest(ctx, cfg, start, end, report); err != nil {
			// the report is still returned, persistence is best effort
			r.logger.Error("failed to save backtest", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}
	return report, nil
}
