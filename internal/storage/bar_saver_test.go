package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pair-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryWriter struct {
	mu      sync.Mutex
	batches [][]StoredBar
	err     error
}

func (w *memoryWriter) SaveBars(_ context.Context, bars []StoredBar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, bars)
	return nil
}

func (w *memoryWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func bar(symbol string, minute int) StoredBar {
	ts := time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
	return StoredBar{Symbol: symbol, Timeframe: 1, Bar: model.PriceBar{Timestamp: ts, Close: 1.1}}
}

func TestBarSaverFlushesOnBatchSize(t *testing.T) {
	w := &memoryWriter{}
	s := NewBarSaver(w, zap.NewNop(), time.Hour, 3)

	s.Add(context.Background(), bar("EURUSD", 0))
	s.Add(context.Background(), bar("EURUSD", 1))
	assert.Equal(t, 0, w.count())

	s.Add(context.Background(), bar("EURUSD", 2))
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 3)
}

func TestBarSaverFlushesOnInterval(t *testing.T) {
	w := &memoryWriter{}
	s := NewBarSaver(w, zap.NewNop(), 10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Add(context.Background(), bar("GBPUSD", 0))
	require.Eventually(t, func() bool { return w.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Add(context.Background(), bar("GBPUSD", 1))
	cancel()
	<-done
	assert.Equal(t, 2, w.count())
}

func TestBarSaverDropsFailedBatch(t *testing.T) {
	w := &memoryWriter{err: errors.New("db down")}
	s := NewBarSaver(w, zap.NewNop(), time.Hour, 100)

	s.Add(context.Background(), bar("EURUSD", 0))
	s.Flush(context.Background())

	w.err = nil
	s.Flush(context.Background())
	assert.Equal(t, 0, w.count())
}
