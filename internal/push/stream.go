package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"go.uber.org/zap"
)

// SnapshotSource computes indicator snapshots for a configuration.
type SnapshotSource interface {
	Indicators(ctx context.Context, cfg model.StrategyConfig) (model.IndicatorSnapshot, error)
	Prices(ctx context.Context, cfg model.StrategyConfig) (map[string]float64, error)
}

type StreamOptions struct {
	Interval  time.Duration
	MaxErrors int
	// IdleGrace bounds how long a stream runs before its first subscriber arrives.
	IdleGrace time.Duration
}

func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		Interval:  time.Second,
		MaxErrors: 5,
		IdleGrace: 30 * time.Second,
	}
}

type streamTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Streams runs one indicator stream per strategy id, feeding the broadcaster.
// A stream ends when its subscribers are gone or it keeps failing.
type Streams struct {
	source  SnapshotSource
	bc      *Broadcaster
	logger  *zap.Logger
	opts    StreamOptions
	baseCtx context.Context

	mu      sync.Mutex
	running map[string]*streamTask
	live    func(id string) bool
}

func NewStreams(baseCtx context.Context, source SnapshotSource, bc *Broadcaster, opts StreamOptions, logger *zap.Logger) *Streams {
	def := DefaultStreamOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = def.MaxErrors
	}
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = def.IdleGrace
	}
	return &Streams{
		source:  source,
		bc:      bc,
		logger:  logger,
		opts:    opts,
		baseCtx: baseCtx,
		running: make(map[string]*streamTask),
	}
}

// SetLiveCheck registers live, which reports ids whose snapshots are already
// published by a live monitor. Those ids get no stream of their own.
func (s *Streams) SetLiveCheck(live func(id string) bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func (s *Streams) publishedLive(id string) bool {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	return live != nil && live(id)
}

// Start launches the stream for cfg.ID. It reports false when one is already
// running or a live monitor publishes that id.
func (s *Streams) Start(cfg model.StrategyConfig) (bool, error) {
	if cfg.ID == "" {
		return false, fmt.Errorf("%w: strategy id is required", model.ErrInvalidConfig)
	}
	if _, err := strategy.NewStrategy(cfg); err != nil {
		return false, err
	}
	if s.publishedLive(cfg.ID) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[cfg.ID]; ok {
		return false, nil
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	task := &streamTask{cancel: cancel, done: make(chan struct{})}
	s.running[cfg.ID] = task
	go s.run(ctx, cfg, task)
	return true, nil
}

// Running reports whether a stream for id is active.
func (s *Streams) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// StopAll cancels every stream and waits for them to exit.
func (s *Streams) StopAll() {
	s.mu.Lock()
	tasks := make([]*streamTask, 0, len(s.running))
	for _, t := range s.running {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

func (s *Streams) run(ctx context.Context, cfg model.StrategyConfig, task *streamTask) {
	logger := s.logger.With(zap.String("strategy_id", cfg.ID))
	unhook := s.bc.OnIdle(cfg.ID, task.cancel)
	defer func() {
		unhook()
		task.cancel()
		s.mu.Lock()
		if s.running[cfg.ID] == task {
			delete(s.running, cfg.ID)
		}
		s.mu.Unlock()
		close(task.done)
		logger.Info("indicator stream stopped")
	}()

	logger.Info("indicator stream started", zap.Duration("interval", s.opts.Interval))
	started := time.Now()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var lastPrices map[string]float64
	errCount := 0
	for {
		if s.publishedLive(cfg.ID) {
			logger.Info("live monitor publishes this id, stopping stream")
			return
		}

		snap, err := s.source.Indicators(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCount++
			logger.Warn("indicator stream cycle failed", zap.Int("consecutive", errCount), zap.Error(err))
			if errCount >= s.opts.MaxErrors {
				logger.Error("too many consecutive errors, stopping stream")
				return
			}
		} else {
			errCount = 0
			if prices, err := s.source.Prices(ctx, cfg); err == nil {
				lastPrices = prices
			} else {
				logger.Debug("tick query failed, reusing last prices", zap.Error(err))
			}
			snap.Prices = lastPrices
			s.bc.Publish(cfg.ID, snap)
		}

		if s.bc.Subscribers(cfg.ID) == 0 && time.Since(started) >= s.opts.IdleGrace {
			logger.Info("no subscribers, stopping stream")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
