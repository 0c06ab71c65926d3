package push

import (
	"sync"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"

	"go.uber.org/zap"
)

// Publisher accepts snapshots for a strategy id.
type Publisher interface {
	Publish(strategyID string, snap model.IndicatorSnapshot)
}

// Fanout publishes to every member in order.
type Fanout []Publisher

func (f Fanout) Publish(strategyID string, snap model.IndicatorSnapshot) {
	for _, p := range f {
		if p != nil {
			p.Publish(strategyID, snap)
		}
	}
}

// Subscription delivers snapshots of one strategy id. C is closed when the
// subscription is pruned or cancelled.
type Subscription struct {
	StrategyID string
	C          <-chan model.IndicatorSnapshot

	ch chan model.IndicatorSnapshot
}

type idleHook struct {
	fn func()
}

// Broadcaster keeps a subscriber set per strategy id. A subscriber that cannot
// take a snapshot immediately is dropped, never retried.
type Broadcaster struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	idle map[string]*idleHook
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
		idle:   make(map[string]*idleHook),
	}
}

// Subscribe registers a subscriber with room for buffer pending snapshots.
func (b *Broadcaster) Subscribe(strategyID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.IndicatorSnapshot, buffer)
	s := &Subscription{StrategyID: strategyID, C: ch, ch: ch}

	b.mu.Lock()
	set := b.subs[strategyID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[strategyID] = set
	}
	set[s] = struct{}{}
	n := len(set)
	b.mu.Unlock()

	b.logger.Info("subscriber added", zap.String("strategy_id", strategyID), zap.Int("subscribers", n))
	return s
}

// Unsubscribe removes s. Calling it on an already pruned subscription is a no-op.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	hook := b.removeLocked(s)
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// OnIdle registers fn to run once when the subscriber set of strategyID
// becomes empty. The returned func unregisters it.
func (b *Broadcaster) OnIdle(strategyID string, fn func()) func() {
	h := &idleHook{fn: fn}
	b.mu.Lock()
	b.idle[strategyID] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		if b.idle[strategyID] == h {
			delete(b.idle, strategyID)
		}
		b.mu.Unlock()
	}
}

// Subscribers is the current subscriber count for strategyID.
func (b *Broadcaster) Subscribers(strategyID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[strategyID])
}

// Publish hands snap to every subscriber without blocking.
func (b *Broadcaster) Publish(strategyID string, snap model.IndicatorSnapshot) {
	b.mu.Lock()
	set := b.subs[strategyID]
	if len(set) == 0 {
		b.mu.Unlock()
		return
	}

	var dropped []*Subscription
	for s := range set {
		select {
		case s.ch <- snap:
		default:
			dropped = append(dropped, s)
		}
	}
	var hook func()
	for _, s := range dropped {
		if h := b.removeLocked(s); h != nil {
			hook = h
		}
	}
	b.mu.Unlock()

	infrastructure.SnapshotsPublished.WithLabelValues(strategyID).Inc()
	if len(dropped) > 0 {
		b.logger.Info("pruned slow subscribers", zap.String("strategy_id", strategyID), zap.Int("count", len(dropped)))
	}
	if hook != nil {
		hook()
	}
}

// removeLocked closes s and returns the idle hook to fire when its set emptied.
func (b *Broadcaster) removeLocked(s *Subscription) func() {
	set, ok := b.subs[s.StrategyID]
	if !ok {
		return nil
	}
	if _, ok := set[s]; !ok {
		return nil
	}
	delete(set, s)
	close(s.ch)
	if len(set) > 0 {
		return nil
	}

	delete(b.subs, s.StrategyID)
	h := b.idle[s.StrategyID]
	if h == nil {
		return nil
	}
	delete(b.idle, s.StrategyID)
	b.logger.Info("no subscribers left", zap.String("strategy_id", s.StrategyID))
	return h.fn
}
