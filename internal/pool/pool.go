// Package pool provides fixed-capacity object pools with scoped handles.
//
// Pools are a pure allocation optimisation: Get never blocks and falls back to
// a fresh allocation on a miss, and Release silently drops the object when the
// pool is full or the object grew too large to keep.
package pool

import "sync/atomic"

// Pool is a bounded, thread-safe free list backed by a buffered channel.
type Pool[T any] struct {
	items chan T
	alloc func() T
	reset func(T) bool // false drops the object instead of retaining it

	hits    atomic.Uint64
	misses  atomic.Uint64
	returns atomic.Uint64
	drops   atomic.Uint64
}

// New creates a pool holding at most capacity idle objects.
func New[T any](capacity int, alloc func() T, reset func(T) bool) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool[T]{
		items: make(chan T, capacity),
		alloc: alloc,
		reset: reset,
	}
}

// Get leases an object. It never blocks.
func (p *Pool[T]) Get() *Handle[T] {
	select {
	case v := <-p.items:
		p.hits.Add(1)
		return &Handle[T]{v: v, p: p}
	default:
		p.misses.Add(1)
		return &Handle[T]{v: p.alloc(), p: p}
	}
}

func (p *Pool[T]) put(v T) {
	if p.reset != nil && !p.reset(v) {
		p.drops.Add(1)
		return
	}
	select {
	case p.items <- v:
		p.returns.Add(1)
	default:
		p.drops.Add(1)
	}
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Capacity int    `json:"capacity"`
	Idle     int    `json:"idle"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Returns  uint64 `json:"returns"`
	Drops    uint64 `json:"drops"`
}

// HitRatio is hits over total gets, 0 when unused.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats snapshots the counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Capacity: cap(p.items),
		Idle:     len(p.items),
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Returns:  p.returns.Load(),
		Drops:    p.drops.Load(),
	}
}

// Handle is a scoped lease on a pooled object.
type Handle[T any] struct {
	v        T
	p        *Pool[T]
	released atomic.Bool
}

// Detached wraps v in a handle that belongs to no pool.
func Detached[T any](v T) *Handle[T] {
	return &Handle[T]{v: v}
}

// Value returns the leased object. It must not be used after Release.
func (h *Handle[T]) Value() T {
	return h.v
}

// Release returns the object to its pool. Calling it twice is a no-op.
func (h *Handle[T]) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.p != nil {
		h.p.put(h.v)
	}
	var zero T
	h.v = zero
}
