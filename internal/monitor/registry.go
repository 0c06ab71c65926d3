package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"go.uber.org/zap"
)

// Deps are shared by every monitor the registry starts.
type Deps struct {
	Router      *OrderRouter
	Snapshotter *Snapshotter
	Publisher   Publisher
	Recorder    TradeRecorder
	Logger      *zap.Logger
	Options     Options
}

// Status is the externally visible view of one monitor.
type Status struct {
	ID                     string                    `json:"id"`
	Name                   string                    `json:"name"`
	Symbols                []string                  `json:"currency_pairs"`
	MagicID                int64                     `json:"magic_id"`
	State                  State                     `json:"state"`
	Positions              []model.MonitoredPosition `json:"positions"`
	LastTradeTime          *time.Time                `json:"last_trade_time,omitempty"`
	CooldownRemainingHours float64                   `json:"cooldown_remaining_hours"`
	ConsecutiveErrors      int                       `json:"consecutive_errors"`
	LastError              string                    `json:"last_error,omitempty"`
}

// Registry owns the table of running monitors. Start and Stop are its only mutators.
type Registry struct {
	deps    Deps
	baseCtx context.Context

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry binds monitor loops to baseCtx; cancelling it stops them all.
func NewRegistry(baseCtx context.Context, deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		baseCtx:  baseCtx,
		monitors: make(map[string]*Monitor),
	}
}

// Start validates cfg, adopts existing positions and launches the loop.
// Starting an id that is already running replaces it without closing trades.
func (r *Registry) Start(ctx context.Context, cfg model.StrategyConfig) (Status, error) {
	if cfg.ID == "" {
		return Status{}, fmt.Errorf("%w: strategy id is required", model.ErrInvalidConfig)
	}
	pair, err := strategy.NewStrategy(cfg)
	if err != nil {
		return Status{}, err
	}

	r.mu.Lock()
	old := r.monitors[cfg.ID]
	delete(r.monitors, cfg.ID)
	r.mu.Unlock()
	if old != nil {
		r.deps.Logger.Info("restarting strategy", zap.String("strategy_id", cfg.ID))
		old.Stop(ctx, false)
	}

	m := newMonitor(pair, r.deps, r.isActive)
	if err := m.Initialize(ctx); err != nil {
		return Status{}, err
	}

	r.mu.Lock()
	r.monitors[cfg.ID] = m
	r.mu.Unlock()

	go m.Run(r.baseCtx)
	return r.status(m), nil
}

// Stop removes the monitor from the table, which ends its loop, and returns
// the closing summary.
func (r *Registry) Stop(ctx context.Context, id string, closeTrades bool) (StopSummary, error) {
	r.mu.Lock()
	m, ok := r.monitors[id]
	delete(r.monitors, id)
	r.mu.Unlock()
	if !ok {
		return StopSummary{}, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	return m.Stop(ctx, closeTrades), nil
}

// StopAll stops every monitor, leaving positions open.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Monitor, 0, len(r.monitors))
	for id, m := range r.monitors {
		all = append(all, m)
		delete(r.monitors, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range all {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Stop(ctx, false)
		}(m)
	}
	wg.Wait()
}

func (r *Registry) isActive(m *Monitor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitors[m.cfg.ID] == m
}

// Running reports whether a monitor is registered for id.
func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.monitors[id]
	return ok
}

func (r *Registry) Get(id string) (Status, bool) {
	r.mu.Lock()
	m, ok := r.monitors[id]
	r.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return r.status(m), true
}

// Config returns the configuration of a running strategy.
func (r *Registry) Config(id string) (model.StrategyConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return model.StrategyConfig{}, false
	}
	return m.cfg, true
}

// List returns every registered monitor ordered by id.
func (r *Registry) List() []Status {
	r.mu.Lock()
	all := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		all = append(all, m)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, m := range all {
		out = append(out, r.status(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) status(m *Monitor) Status {
	m.mu.RLock()
	st := Status{
		ID:                m.cfg.ID,
		Name:              m.cfg.Name,
		Symbols:           m.cfg.Symbols,
		MagicID:           m.cfg.MagicID,
		State:             m.state,
		ConsecutiveErrors: m.consecutiveErrors,
		LastError:         m.lastError,
	}
	m.mu.RUnlock()
	st.Positions = m.Positions()

	if last := m.LastTradeTime(); !last.IsZero() {
		st.LastTradeTime = &last
		st.CooldownRemainingHours = m.pair.CooldownRemaining(last, m.now()).Hours()
	}
	return st
}
