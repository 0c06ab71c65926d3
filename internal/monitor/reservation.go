package monitor

import "sync"

// Slot is a mutex guarded value.
type Slot[T any] struct {
	mu sync.Mutex
	v  T
}

func (s *Slot[T]) Load() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

// Reserve stores v immediately and remembers the prior value so the caller
// can undo the write if the action it guards fails.
func (s *Slot[T]) Reserve(v T) *Reservation[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Reservation[T]{slot: s, prior: s.v}
	s.v = v
	return r
}

// Reservation is settled exactly once, by Commit or Rollback.
// Rollback after Commit is a no-op, so `defer r.Rollback()` is always safe.
type Reservation[T any] struct {
	slot    *Slot[T]
	prior   T
	settled bool
}

func (r *Reservation[T]) Commit() {
	r.settled = true
}

func (r *Reservation[T]) Rollback() {
	if r.settled {
		return
	}
	r.settled = true
	r.slot.Store(r.prior)
}

// Prior is the value the reservation replaced.
func (r *Reservation[T]) Prior() T { return r.prior }
