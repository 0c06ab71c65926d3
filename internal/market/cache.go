package market

import (
	"sync"
	"time"

	"pair-trader/internal/model"
)

type cachedTick struct {
	tick     model.Tick
	storedAt time.Time
}

// TickCache is shared by every monitor. Writes are last-writer-wins per symbol.
type TickCache struct {
	mu      sync.RWMutex
	entries map[string]cachedTick
}

func NewTickCache() *TickCache {
	return &TickCache{entries: make(map[string]cachedTick)}
}

// Get returns the cached tick and the time it was stored.
func (c *TickCache) Get(symbol string) (model.Tick, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e.tick, e.storedAt, ok
}

func (c *TickCache) Put(symbol string, tick model.Tick, at time.Time) {
	c.mu.Lock()
	c.entries[symbol] = cachedTick{tick: tick, storedAt: at}
	c.mu.Unlock()
}
