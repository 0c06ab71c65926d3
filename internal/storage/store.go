package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// Store persists backtest reports, live trades and aggregated bars.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BacktestRun is the summary row of one stored backtest.
type BacktestRun struct {
	ID           string    `json:"id"`
	StrategyName string    `json:"strategy_name"`
	SymbolA      string    `json:"symbol_a"`
	SymbolB      string    `json:"symbol_b"`
	Timeframe    int       `json:"timeframe"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	TotalTrades  int       `json:"total_trades"`
	WinRate      float64   `json:"win_rate"`
	NetProfit    float64   `json:"net_profit"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	FinalBalance float64   `json:"final_balance"`
	CreatedAt    time.Time `json:"created_at"`
}

const insertBacktestTrade = `
	INSERT INTO backtest_trades (run_id, seq, entry_time, exit_time, long_symbol, short_symbol,
		long_entry_price, long_exit_price, short_entry_price, short_exit_price, long_lot, short_lot,
		entry_correlation, exit_correlation, long_profit, short_profit, total_profit)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

const insertLiveTrade = `
	INSERT INTO live_trades (strategy_id, entry_time, exit_time, long_symbol, short_symbol,
		long_entry_price, long_exit_price, short_entry_price, short_exit_price, long_lot, short_lot,
		entry_correlation, exit_correlation, long_profit, short_profit, total_profit)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const upsertBar = `
	INSERT INTO market_klines (symbol, timeframe, time, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (symbol, timeframe, time) DO UPDATE
	SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		close = EXCLUDED.close, volume = EXCLUDED.volume`

// SaveBacktest stores the run summary and its trade log in one transaction.
func (s *Store) SaveBacktest(ctx context.Context, cfg model.StrategyConfig, start, end time.Time, report model.BacktestReport) error {
	if report.RunID == "" {
		return fmt.Errorf("backtest report has no run id")
	}
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	m := report.Metrics

	err = s.pool.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO backtest_runs (id, strategy_name, symbol_a, symbol_b, timeframe, config,
				start_date, end_date, total_trades, win_rate, net_profit, max_drawdown, sharpe_ratio, final_balance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			report.RunID, report.StrategyName, cfg.SymbolA(), cfg.SymbolB(), cfg.Timeframe, rawCfg,
			start, end, m.TotalTrades, num(m.WinRate), num(m.NetProfitDollars), num(m.MaxDrawdownDollars),
			num(m.SharpeRatio), num(m.FinalBalance))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for i, t := range report.Trades {
			batch.Queue(insertBacktestTrade, append([]interface{}{report.RunID, i}, tradeArgs(t)...)...)
		}
		if batch.Len() == 0 {
			return nil
		}
		br := tx.SendBatch(ctx, batch)
		for range report.Trades {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert trade: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return err
	}
	infrastructure.DBInsertRate.WithLabelValues("backtest_runs").Inc()
	infrastructure.DBInsertRate.WithLabelValues("backtest_trades").Add(float64(len(report.Trades)))
	return nil
}

// RecordLiveTrade appends one finalized live trade.
func (s *Store) RecordLiveTrade(ctx context.Context, strategyID string, t model.Trade) error {
	args := append([]interface{}{strategyID}, tradeArgs(t)...)
	if _, err := s.pool.Exec(ctx, insertLiveTrade, args...); err != nil {
		return fmt.Errorf("insert live trade: %w", err)
	}
	infrastructure.DBInsertRate.WithLabelValues("live_trades").Inc()
	return nil
}

// SaveBars upserts completed bars into market_klines.
func (s *Store) SaveBars(ctx context.Context, bars []StoredBar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(upsertBar, b.Symbol, b.Timeframe, b.Bar.Timestamp,
			num(b.Bar.Open), num(b.Bar.High), num(b.Bar.Low), num(b.Bar.Close), num(b.Bar.Volume))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert bar: %w", err)
		}
	}
	infrastructure.DBInsertRate.WithLabelValues("market_klines").Add(float64(len(bars)))
	return nil
}

// RecentBacktests lists the newest stored runs first.
func (s *Store) RecentBacktests(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, strategy_name, symbol_a, symbol_b, timeframe, start_date, end_date,
			total_trades, win_rate, net_profit, max_drawdown, sharpe_ratio, final_balance, created_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]BacktestRun, 0)
	for rows.Next() {
		var (
			r                                       BacktestRun
			winRate, net, drawdown, sharpe, balance decimal.Decimal
		)
		if err := rows.Scan(&r.ID, &r.StrategyName, &r.SymbolA, &r.SymbolB, &r.Timeframe, &r.StartDate, &r.EndDate,
			&r.TotalTrades, &winRate, &net, &drawdown, &sharpe, &balance, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.WinRate = winRate.InexactFloat64()
		r.NetProfit = net.InexactFloat64()
		r.MaxDrawdown = drawdown.InexactFloat64()
		r.SharpeRatio = sharpe.InexactFloat64()
		r.FinalBalance = balance.InexactFloat64()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// tradeArgs are the trade columns shared by backtest_trades and live_trades.
func tradeArgs(t model.Trade) []interface{} {
	return []interface{}{
		t.EntryTime, t.ExitTime, t.LongSymbol, t.ShortSymbol,
		num(t.LongEntryPrice), num(t.LongExitPrice), num(t.ShortEntryPrice), num(t.ShortExitPrice),
		num(t.LongLot), num(t.ShortLot),
		num(t.EntryCorrelation), num(t.ExitCorrelation),
		num(t.LongProfit), num(t.ShortProfit), num(t.TotalProfit),
	}
}

// num converts to an exact NUMERIC parameter. Non-finite values are stored as 0.
func num(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
