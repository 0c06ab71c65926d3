package storage

import (
	"context"
	"sync"
	"time"

	"pair-trader/internal/model"

	"go.uber.org/zap"
)

// StoredBar is one completed bar keyed by symbol and timeframe.
type StoredBar struct {
	Symbol    string
	Timeframe int
	Bar       model.PriceBar
}

// BarWriter is implemented by Store.
type BarWriter interface {
	SaveBars(ctx context.Context, bars []StoredBar) error
}

// BarSaver buffers bars and writes them in batches, on size or on interval.
type BarSaver struct {
	writer    BarWriter
	logger    *zap.Logger
	interval  time.Duration
	batchSize int

	mu     sync.Mutex
	buffer []StoredBar
}

func NewBarSaver(writer BarWriter, logger *zap.Logger, interval time.Duration, batchSize int) *BarSaver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BarSaver{
		writer:    writer,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		buffer:    make([]StoredBar, 0, batchSize),
	}
}

// Add queues bar; a full buffer is flushed immediately.
func (s *BarSaver) Add(ctx context.Context, bar StoredBar) {
	s.mu.Lock()
	s.buffer = append(s.buffer, bar)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()
	if full {
		s.Flush(ctx)
	}
}

// Run flushes on every interval until ctx is done, then once more.
func (s *BarSaver) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *BarSaver) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]StoredBar, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.writer.SaveBars(ctx, batch); err != nil {
		s.logger.Error("failed to save bars", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	s.logger.Debug("saved bars", zap.Int("count", len(batch)))
}
