// Package pool implements the lock-free buffer pool of spec.md §5:
// "Memory pool: lock-free stack of buffers, size bounded by pool_max
// (default 1024). Mutated by any worker; protected by atomic
// operations only." No teacher file implements a lock-free pool (lnd
// relies on the garbage collector plus, in hot paths, sync.Pool, which
// this spec explicitly rules out by requiring an atomics-only, bounded
// stack); the Treiber-stack design here is the standard lock-free
// construction for exactly this shape, built on Go 1.19's generic
// atomic.Pointer rather than a mutex.
package pool

import "sync/atomic"

// node is one link of the lock-free stack.
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Pool is a bounded, lock-free stack of reusable buffers of type T.
// Get never blocks and never fails: on an empty pool it allocates a
// fresh value via newFunc (spec.md §4.1: "misses allocate a fresh
// buffer (never fail the packet)"). Put drops the value instead of
// growing the stack past maxSize, leaving it to the garbage collector.
type Pool[T any] struct {
	head atomic.Pointer[node[T]]
	size atomic.Int64

	maxSize int64
	newFunc func() T

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Pool bounded at maxSize, allocating fresh values with
// newFunc on a miss.
func New[T any](maxSize int, newFunc func() T) *Pool[T] {
	return &Pool[T]{
		maxSize: int64(maxSize),
		newFunc: newFunc,
	}
}

// Get pops a buffer from the pool, or allocates a fresh one if empty.
func (p *Pool[T]) Get() T {
	for {
		top := p.head.Load()
		if top == nil {
			p.misses.Add(1)
			return p.newFunc()
		}

		next := top.next.Load()
		if p.head.CompareAndSwap(top, next) {
			p.size.Add(-1)
			p.hits.Add(1)
			return top.value
		}
	}
}

// Put returns a buffer to the pool. If the pool is already at or
// above maxSize, the buffer is dropped rather than grown without
// bound; the size check is advisory (racing Puts may briefly
// overshoot maxSize by a handful of entries) which is acceptable for
// a soft capacity bound.
func (p *Pool[T]) Put(v T) {
	if p.size.Load() >= p.maxSize {
		return
	}

	n := &node[T]{value: v}
	for {
		top := p.head.Load()
		n.next.Store(top)
		if p.head.CompareAndSwap(top, n) {
			p.size.Add(1)
			return
		}
	}
}

// HitRate returns the fraction of Get calls satisfied from the pool
// rather than freshly allocated, the statistic spec.md §4.1 targets
// at >= 85% at steady state.
func (p *Pool[T]) HitRate() float64 {
	hits := p.hits.Load()
	misses := p.misses.Load()

	total := hits + misses
	if total == 0 {
		return 0
	}

	return float64(hits) / float64(total)
}

// Len returns the approximate number of buffers currently pooled.
func (p *Pool[T]) Len() int64 {
	return p.size.Load()
}
