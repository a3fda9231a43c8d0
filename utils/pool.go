package utils

import "sync/atomic"

// Pool recycles values of one container type up to a fixed capacity.
// Acquire returns a previously released value or allocates a fresh one;
// Release resets a value and keeps it unless the pool is full, in which
// case the value is simply dropped for the GC to collect. Pooling is an
// allocation-pressure optimization only: no behavior may depend on
// whether a value came from the pool or from alloc.
type Pool[T any] struct {
	free  chan T
	alloc func() T
	reset func(T) T

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewPool[T any](capacity int, alloc func() T, reset func(T) T) *Pool[T] {
	return &Pool[T]{
		free:  make(chan T, capacity),
		alloc: alloc,
		reset: reset,
	}
}

func (p *Pool[T]) Acquire() T {
	select {
	case v := <-p.free:
		p.hits.Add(1)
		return v
	default:
		p.misses.Add(1)
		return p.alloc()
	}
}

func (p *Pool[T]) Release(v T) {
	v = p.reset(v)
	select {
	case p.free <- v:
	default:
	}
}

// Free reports how many released values the pool currently retains.
func (p *Pool[T]) Free() int {
	return len(p.free)
}

// Stats reports how many Acquire calls were served from the pool (hits)
// and how many fell back to allocation (misses).
func (p *Pool[T]) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}
