package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolRecycles(t *testing.T) {
	allocs := 0
	pool := NewPool(2,
		func() []int { allocs++; return make([]int, 0, 4) },
		func(s []int) []int { return s[:0] },
	)

	a := pool.Acquire()
	assert.Equal(t, 1, allocs)
	a = append(a, 1, 2, 3)
	pool.Release(a)
	assert.Equal(t, 1, pool.Free())

	b := pool.Acquire()
	assert.Equal(t, 1, allocs)
	assert.Len(t, b, 0)
	assert.Equal(t, 4, cap(b))
}

func TestPoolOverflowDrops(t *testing.T) {
	pool := NewPool(1,
		func() map[string]int { return map[string]int{} },
		func(m map[string]int) map[string]int { clear(m); return m },
	)
	pool.Release(map[string]int{"a": 1})
	pool.Release(map[string]int{"b": 2})
	assert.Equal(t, 1, pool.Free())

	m := pool.Acquire()
	assert.Empty(t, m)
	assert.Equal(t, 0, pool.Free())
}

func TestPoolStats(t *testing.T) {
	pool := NewPool(2,
		func() []int { return make([]int, 0, 4) },
		func(s []int) []int { return s[:0] },
	)

	a := pool.Acquire()
	hits, misses := pool.Stats()
	assert.EqualValues(t, 0, hits)
	assert.EqualValues(t, 1, misses)

	pool.Release(a)
	pool.Acquire()
	hits, misses = pool.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestPoolConcurrent(t *testing.T) {
	const K = 16
	const N = 1 << 10

	pool := NewPool(8,
		func() []byte { return make([]byte, 0, 16) },
		func(s []byte) []byte { return s[:0] },
	)

	var wg sync.WaitGroup
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < N; n++ {
				v := pool.Acquire()
				v = append(v, byte(n))
				pool.Release(v)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		assert.Len(t, pool.Acquire(), 0)
	}
}
