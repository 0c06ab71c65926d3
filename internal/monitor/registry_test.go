package monitor

import (
	"context"
	"testing"
	"time"

	"pair-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, h *harness) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(ctx, h.deps)
	t.Cleanup(func() {
		r.StopAll(context.Background())
		cancel()
	})
	return r
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	h := newHarness()
	r := newTestRegistry(t, h)

	cfg := testConfig()
	cfg.ID = ""
	_, err := r.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Symbols = []string{"EURUSD"}
	_, err = r.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Empty(t, r.List())
}

func TestRegistryStartReportsCooldown(t *testing.T) {
	h := newHarness()
	h.recovered()
	opened := time.Now().Add(-6 * time.Hour)
	h.exec.positions = []model.MonitoredPosition{
		{Ticket: 1, Symbol: "EURUSD", Side: model.SideBuy, Volume: 1, OpenTime: opened, MagicID: 7},
	}
	r := newTestRegistry(t, h)

	st, err := r.Start(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "live-1", st.ID)
	require.NotNil(t, st.LastTradeTime)
	assert.True(t, opened.Equal(*st.LastTradeTime))
	assert.InDelta(t, 18, st.CooldownRemainingHours, 0.1)
	assert.Len(t, st.Positions, 1)

	got, ok := r.Get("live-1")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.MagicID)
	cfg, ok := r.Config("live-1")
	require.True(t, ok)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Symbols)
}

func TestRegistryRestartReplacesMonitor(t *testing.T) {
	h := newHarness()
	h.recovered()
	r := newTestRegistry(t, h)

	_, err := r.Start(context.Background(), testConfig())
	require.NoError(t, err)
	r.mu.Lock()
	first := r.monitors["live-1"]
	r.mu.Unlock()

	_, err = r.Start(context.Background(), testConfig())
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced monitor kept running")
	}
	assert.Equal(t, StateStopped, first.State())
	assert.Len(t, r.List(), 1)

	r.mu.Lock()
	second := r.monitors["live-1"]
	r.mu.Unlock()
	assert.NotSame(t, first, second)
}

func TestRegistryStop(t *testing.T) {
	h := newHarness()
	h.recovered()
	r := newTestRegistry(t, h)

	_, err := r.Stop(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrNotRunning)

	assert.False(t, r.Running("live-1"))
	_, err = r.Start(context.Background(), testConfig())
	require.NoError(t, err)
	assert.True(t, r.Running("live-1"))
	h.exec.mu.Lock()
	h.exec.positions = []model.MonitoredPosition{
		{Ticket: 9, Symbol: "GBPUSD", Side: model.SideSell, Volume: 0.5, MagicID: 7},
	}
	h.exec.mu.Unlock()

	summary, err := r.Stop(context.Background(), "live-1", true)
	require.NoError(t, err)
	assert.Equal(t, StopSummary{Closed: 1}, summary)
	_, ok := r.Get("live-1")
	assert.False(t, ok)
	assert.False(t, r.Running("live-1"))
}

func TestRegistryListIsSorted(t *testing.T) {
	h := newHarness()
	h.recovered()
	r := newTestRegistry(t, h)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		cfg := testConfig()
		cfg.ID = id
		_, err := r.Start(context.Background(), cfg)
		require.NoError(t, err)
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "zeta", list[2].ID)

	r.StopAll(context.Background())
	assert.Empty(t, r.List())
}
