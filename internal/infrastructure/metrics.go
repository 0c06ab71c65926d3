package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MonitorCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_cycles_total",
		Help: "Live monitor cycles by outcome",
	}, []string{"strategy_id", "outcome"})

	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_monitors",
		Help: "Number of running live strategy monitors",
	})

	OrdersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_sent_total",
		Help: "Orders sent to the execution venue by action and result",
	}, []string{"action", "result"})

	EntryLockSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entry_lock_skips_total",
		Help: "Entry attempts skipped because the entry lock was busy",
	}, []string{"strategy_id"})

	FeedRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_retries_total",
		Help: "Failed price feed attempts that were retried",
	}, []string{"query"})

	TickCacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_cache_results_total",
		Help: "Tick cache lookups by result (hit, miss, stale)",
	}, []string{"result"})

	BacktestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_duration_seconds",
		Help:    "Wall time of backtest runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshots_published_total",
		Help: "Indicator snapshots fanned out to subscribers",
	}, []string{"strategy_id"})

	DBInsertRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "db_insert_total",
		Help: "Total number of records inserted into DB",
	}, []string{"table"})
)
