package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pair-trader/api"
	"pair-trader/internal/config"
	"pair-trader/internal/connector"
	"pair-trader/internal/engine"
	"pair-trader/internal/infrastructure"
	"pair-trader/internal/market"
	"pair-trader/internal/monitor"
	"pair-trader/internal/processor"
	"pair-trader/internal/push"
	"pair-trader/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App defines the application structure and its dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *pgxpool.Pool
	NC     *nats.Conn
	JS     nats.JetStreamContext
	Store  *storage.Store

	Bridge      *connector.BridgeClient
	Conn        *market.Connection
	Ticks       *market.TickCache
	Data        *market.DataAccess
	Broadcaster *push.Broadcaster
	Streams     *push.Streams
	Registry    *monitor.Registry
	Backtests   *engine.WorkerPool
	PushGateway *push.Gateway
	HTTPServer  *http.Server

	// services live until shutdown, independent of request contexts
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config: &cfg,
		Logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Init connects the database, NATS and the terminal bridge and builds the services.
// An empty DB_DSN or NATS_URL disables that dependency.
func (a *App) Init(ctx context.Context) error {
	// 1. Database
	if a.Config.DB_DSN != "" {
		dbPool, err := pgxpool.Connect(ctx, a.Config.DB_DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool
		if err := a.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Store = storage.NewStore(dbPool)
	}

	// 2. NATS
	if a.Config.NatsURL != "" {
		nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.NC = nc
		a.JS = js
	}

	// 3. Market data and execution
	a.Bridge = connector.NewBridgeClient(a.Config.BridgeURL, a.Config.BridgeTimeout, a.Logger)
	a.Conn = market.NewConnection(a.Bridge, a.Logger)
	a.Ticks = market.NewTickCache()
	a.Data = market.NewDataAccess(a.Bridge, a.Conn, a.Ticks, a.marketOptions(), a.Logger)

	// 4. Services
	a.Broadcaster = push.NewBroadcaster(a.Logger)
	snapshots := monitor.NewSnapshotter(a.Data)
	a.Streams = push.NewStreams(a.ctx, snapshots, a.Broadcaster, push.StreamOptions{
		Interval: a.Config.StreamInterval,
	}, a.Logger)

	publishers := push.Fanout{a.Broadcaster}
	var recorder monitor.TradeRecorder
	if a.JS != nil {
		mirror := push.NewNATSMirror(a.JS, a.Logger)
		publishers = append(publishers, mirror)
		recorder = mirror
	} else if a.Store != nil {
		recorder = a.Store
	}

	a.Registry = monitor.NewRegistry(a.ctx, monitor.Deps{
		Router:      monitor.NewOrderRouter(a.Bridge, a.Conn, a.Data, a.Logger),
		Snapshotter: snapshots,
		Publisher:   publishers,
		Recorder:    recorder,
		Logger:      a.Logger,
		Options: monitor.Options{
			Interval:    a.Config.MonitorInterval,
			LockTimeout: a.Config.EntryLockTimeout,
			MaxErrors:   a.Config.MaxCycleErrors,
		},
	})
	a.Streams.SetLiveCheck(a.Registry.Running)

	runner, err := a.NewBacktestRunner()
	if err != nil {
		return err
	}
	a.Backtests = engine.NewWorkerPool(a.Config.BacktestWorkers, a.Config.BacktestQueue, runner, a.Logger)

	var js push.JetStreamSubscriber
	if a.JS != nil {
		js = a.JS
	}
	a.PushGateway = push.NewGateway(a.Broadcaster, js, a.Logger)
	return nil
}

// NewBacktestRunner picks the bar source from BACKTEST_SOURCE.
func (a *App) NewBacktestRunner() (*engine.Runner, error) {
	var source engine.BarSource = a.Data
	if a.Config.BacktestSource == "db" {
		if a.DB == nil {
			return nil, fmt.Errorf("BACKTEST_SOURCE=db requires DB_DSN")
		}
		source = engine.NewDataLoader(a.DB)
	}
	var sink engine.ReportSink
	if a.Store != nil {
		sink = a.Store
	}
	return engine.NewRunner(source, sink, a.Logger), nil
}

func (a *App) marketOptions() market.Options {
	opts := market.DefaultOptions()
	opts.CacheTTL = a.Config.TickCacheTTL
	opts.StaleMax = a.Config.TickStaleMax
	opts.MaxRetries = a.Config.FeedMaxRetries
	opts.RetryDelay = a.Config.FeedRetryDelay
	opts.ChunkSize = a.Config.HistoryChunkSize
	return opts
}

// Run starts the application services and the HTTP server
func (a *App) Run(ctx context.Context) error {
	a.Backtests.Start(a.ctx)

	// Start Persistence Service
	if a.JS != nil && a.Store != nil {
		if err := a.startPersistenceService(); err != nil {
			return fmt.Errorf("failed to start persistence service: %w", err)
		}
	}

	// Start Tick Worker
	a.startTickWorker(a.ctx)

	// Setup HTTP Server
	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(ctx)
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown(ctx context.Context) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.Close(shutdownCtx)
	return nil
}

// Close stops monitors and streams, leaving broker positions open, then
// releases connections.
func (a *App) Close(ctx context.Context) {
	if a.Registry != nil {
		a.Registry.StopAll(ctx)
	}
	if a.Streams != nil {
		a.Streams.StopAll()
	}
	a.cancel()
	if a.Conn != nil {
		if err := a.Conn.Close(ctx); err != nil {
			a.Logger.Warn("failed to shut down terminal connection", zap.Error(err))
		}
	}
	if a.NC != nil {
		a.NC.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logger.Sync()
}

// initDatabase runs the database initialization script
func (a *App) initDatabase(ctx context.Context) error {
	sqlFile := "scripts/init.sql"
	content, err := os.ReadFile(sqlFile)
	if err != nil {
		return fmt.Errorf("failed to read init script: %w", err)
	}

	_, err = a.DB.Exec(ctx, string(content))
	if err != nil {
		return fmt.Errorf("failed to execute init script: %w", err)
	}

	a.Logger.Info("database initialized successfully")
	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	var history api.BacktestHistory
	if a.Store != nil {
		history = a.Store
	}
	apiHandler := api.NewHandler(a.Registry, a.Backtests, a.Streams, history, a.Logger)
	apiHandler.Register(r.Group("/api/v1"))

	r.GET("/ws", func(c *gin.Context) {
		a.PushGateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}

// newBarPipeline wires streamed ticks into stored bars when a database is configured.
func (a *App) newBarPipeline(ctx context.Context) *processor.BarAggregator {
	if a.Store == nil {
		return nil
	}
	saver := storage.NewBarSaver(a.Store, a.Logger, time.Second, 100)
	go saver.Run(ctx)
	agg := processor.NewBarAggregator(saver, nil, a.Logger)
	go agg.Run(ctx, 5*time.Second)
	return agg
}
