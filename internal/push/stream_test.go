package push

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

type scriptedSource struct {
	mu        sync.Mutex
	calls     int
	failFrom  int // Indicators fails from this call on, 0 never
	priceFail bool
}

func (s *scriptedSource) Indicators(_ context.Context, cfg model.StrategyConfig) (model.IndicatorSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFrom > 0 && s.calls >= s.failFrom {
		return model.IndicatorSnapshot{}, errors.New("bars unavailable")
	}
	return snapshot(cfg.ID, float64(s.calls)/100), nil
}

func (s *scriptedSource) Prices(context.Context, model.StrategyConfig) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priceFail && s.calls > 1 {
		return nil, errors.New("tick timeout")
	}
	return map[string]float64{"EURUSD": 1.1, "GBPUSD": 1.3}, nil
}

func streamConfig(id string) model.StrategyConfig {
	return model.StrategyConfig{
		ID:                id,
		Symbols:           []string{"EURUSD", "GBPUSD"},
		Lots:              []float64{1, 1},
		Timeframe:         60,
		RSIPeriod:         14,
		CorrelationWindow: 20,
		RSIOverbought:     70,
		RSIOversold:       30,
		EntryThreshold:    -0.3,
		ExitThreshold:     0.1,
		CooldownHours:     24,
		MagicID:           1,
		StartingBalance:   10000,
	}
}

func fastStreams(source SnapshotSource, bc *Broadcaster) *Streams {
	return NewStreams(context.Background(), source, bc, StreamOptions{
		Interval:  5 * time.Millisecond,
		MaxErrors: 3,
		IdleGrace: time.Minute,
	}, zap.NewNop())
}

func waitStopped(t *testing.T, s *Streams, id string) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Running(id) }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamStopsWhenSubscribersLeave(t *testing.T) {
	bc := NewBroadcaster(zap.NewNop())
	streams := fastStreams(&scriptedSource{}, bc)

	sub := bc.Subscribe("s1", 64)
	started, err := streams.Start(streamConfig("s1"))
	require.NoError(t, err)
	assert.True(t, started)

	again, err := streams.Start(streamConfig("s1"))
	require.NoError(t, err)
	assert.False(t, again)

	select {
	case got := <-sub.C:
		assert.Equal(t, "s1", got.StrategyID)
		assert.Equal(t, 1.1, got.Prices["EURUSD"])
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot streamed")
	}

	bc.Unsubscribe(sub)
	waitStopped(t, streams, "s1")
}

func TestStreamStopsAfterConsecutiveErrors(t *testing.T) {
	bc := NewBroadcaster(zap.NewNop())
	source := &scriptedSource{failFrom: 2}
	streams := fastStreams(source, bc)
	bc.Subscribe("s2", 64)

	_, err := streams.Start(streamConfig("s2"))
	require.NoError(t, err)
	waitStopped(t, streams, "s2")

	source.mu.Lock()
	assert.Equal(t, 4, source.calls)
	source.mu.Unlock()
}

func TestStreamReusesLastPrices(t *testing.T) {
	bc := NewBroadcaster(zap.NewNop())
	streams := fastStreams(&scriptedSource{priceFail: true}, bc)
	sub := bc.Subscribe("s3", 64)

	_, err := streams.Start(streamConfig("s3"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case got := <-sub.C:
			assert.Equal(t, 1.3, got.Prices["GBPUSD"])
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot streamed")
		}
	}
	streams.StopAll()
	assert.False(t, streams.Running("s3"))
}

func TestStreamStopsWithoutSubscribersAfterGrace(t *testing.T) {
	bc := NewBroadcaster(zap.NewNop())
	streams := NewStreams(context.Background(), &scriptedSource{}, bc, StreamOptions{
		Interval:  5 * time.Millisecond,
		IdleGrace: 20 * time.Millisecond,
	}, zap.NewNop())

	_, err := streams.Start(streamConfig("s4"))
	require.NoError(t, err)
	waitStopped(t, streams, "s4")
}

func TestStreamRejectsInvalidConfig(t *testing.T) {
	streams := fastStreams(&scriptedSource{}, NewBroadcaster(zap.NewNop()))

	cfg := streamConfig("")
	_, err := streams.Start(cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	cfg = streamConfig("bad")
	cfg.Lots = []float64{1}
	_, err = streams.Start(cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestStreamDefersToLiveMonitor(t *testing.T) {
	bc := NewBroadcaster(zap.NewNop())
	s := fastStreams(&scriptedSource{}, bc)
	var mu sync.Mutex
	live := map[string]bool{"live-1": true}
	s.SetLiveCheck(func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		return live[id]
	})

	started, err := s.Start(streamConfig("live-1"))
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, s.Running("live-1"))

	sub := bc.Subscribe("bt-1", 64)
	started, err = s.Start(streamConfig("bt-1"))
	require.NoError(t, err)
	require.True(t, started)
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot before the live monitor took over")
	}

	mu.Lock()
	live["bt-1"] = true
	mu.Unlock()
	waitStopped(t, s, "bt-1")

	for len(sub.C) > 0 {
		<-sub.C
	}
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sub.C, "stream kept publishing next to the live monitor")
	bc.Unsubscribe(sub)
}
