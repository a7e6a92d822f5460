package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAllocatesOnEmptyPool(t *testing.T) {
	allocs := 0
	p := New[int](4, func() int { allocs++; return 42 })

	v := p.Get()
	require.Equal(t, 42, v)
	require.Equal(t, 1, allocs)
	require.Equal(t, 0.0, p.HitRate())
}

func TestPutThenGetIsAHit(t *testing.T) {
	p := New[int](4, func() int { return -1 })

	p.Put(7)
	v := p.Get()

	require.Equal(t, 7, v)
	require.Equal(t, 1.0, p.HitRate())
}

func TestPutRespectsMaxSize(t *testing.T) {
	p := New[int](2, func() int { return -1 })

	p.Put(1)
	p.Put(2)
	p.Put(3) // dropped, pool already at maxSize

	require.LessOrEqual(t, p.Len(), int64(2))
}

func TestConcurrentGetPutIsRaceFree(t *testing.T) {
	p := New[int](64, func() int { return 0 })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				v := p.Get()
				p.Put(v)
			}
		}()
	}
	wg.Wait()
}
