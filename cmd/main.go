package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"pair-trader/internal/app"
	"pair-trader/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pair-trader",
		Short: "Statistical pair trading engine",
		Long: `pair-trader watches two correlated symbols, enters a hedged long/short pair
when their correlation breaks down and exits when it recovers. It runs live
strategies against a terminal bridge and backtests the same rules on history.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: serve
			return runServe()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBacktestCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket gateway and live monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// Create application instance
	application, err := app.NewApp()
	if err != nil {
		log.Printf("failed to create application: %v", err)
		return err
	}

	// Initialize application (DB, NATS, bridge, etc.)
	ctx := context.Background()
	if err := application.Init(ctx); err != nil {
		application.Logger.Error("failed to initialize application", zap.Error(err))
		return err
	}

	// Run application
	if err := application.Run(ctx); err != nil {
		application.Logger.Error("application error", zap.Error(err))
		return err
	}
	return nil
}

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run one backtest and print the report as JSON",
		Long: `Run a backtest for a strategy configuration file.
Example: pair-trader backtest --config eurgbp.json --start 2024-01-01 --end 2024-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			out, _ := cmd.Flags().GetString("out")
			return runBacktest(cmd.Context(), path, start, end, out)
		},
	}

	cmd.Flags().String("config", "", "Strategy configuration JSON file")
	cmd.Flags().String("start", "", "Start date in YYYY-MM-DD format")
	cmd.Flags().String("end", "", "End date in YYYY-MM-DD format")
	cmd.Flags().String("out", "", "Write the report to this file instead of stdout")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}

func runBacktest(ctx context.Context, path, startDate, endDate, out string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategy config: %w", err)
	}
	var cfg model.StrategyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse strategy config: %w", err)
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = model.NormalizeSymbol(s)
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}

	application, err := app.NewApp()
	if err != nil {
		return err
	}
	if err := application.Init(ctx); err != nil {
		return err
	}
	defer application.Close(context.Background())

	runner, err := application.NewBacktestRunner()
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, cfg, start, end)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(out, data, 0o644)
}
