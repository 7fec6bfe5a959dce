package wsdeque

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleThreadLIFO(t *testing.T) {
	d := New[int]()

	d.Push(1)
	d.Push(2)
	d.Push(3)

	v, ok := d.Pop()
	require.True(t, ok)
	require.Equal(t, 3, v)

	v, ok = d.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)

	v, ok = d.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = d.Pop()
	require.False(t, ok)
}

func TestStealEmptyDeque(t *testing.T) {
	d := New[int]()
	s := d.Stealer()

	res := s.Steal()
	require.True(t, res.IsEmpty())
}

func TestProducerAndOneStealer(t *testing.T) {
	const n = 100

	d := New[int]()
	s := d.Stealer()

	seen := make(map[int]bool, n)
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		defer close(done)
		got := 0
		for got < n {
			res := s.Steal()
			v, ok := res.Success()
			if ok {
				mu.Lock()
				require.False(t, seen[v], "value %d stolen twice", v)
				seen[v] = true
				mu.Unlock()
				got++
				continue
			}
			if res.IsEmpty() {
				// The owner pops concurrently, so stop once every value
				// has been seen by either side.
				mu.Lock()
				all := len(seen) == n
				mu.Unlock()
				if all {
					return
				}
				continue
			}
			// Retry: just try again.
		}
	}()

	for i := 1; i <= n; i++ {
		d.Push(i)
	}

	for {
		v, ok := d.Pop()
		if !ok {
			break
		}
		mu.Lock()
		require.False(t, seen[v], "value %d popped and already seen", v)
		seen[v] = true
		mu.Unlock()
	}

	<-done

	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		require.True(t, seen[i], "value %d never observed", i)
	}
}

func TestContestedLastElement(t *testing.T) {
	const rounds = 2000

	for i := 0; i < rounds; i++ {
		d := New[int]()
		d.Push(42)
		s := d.Stealer()

		var wg sync.WaitGroup
		var stolen, popped bool
		var stolenVal int

		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				res := s.Steal()
				if res.IsRetry() {
					continue
				}
				if v, ok := res.Success(); ok {
					stolen = true
					stolenVal = v
				}
				return
			}
		}()
		go func() {
			defer wg.Done()
			if v, ok := d.Pop(); ok {
				popped = true
				stolenVal = v
			}
		}()
		wg.Wait()

		require.True(t, stolen != popped, "exactly one of pop/steal must win the race")
		require.Equal(t, 42, stolenVal)
	}
}

func TestGrowUnderConcurrentStealers(t *testing.T) {
	const total = 1000
	const stealers = 3

	d := NewWithMinCapacity[int](4)
	s := d.Stealer()

	var (
		mu       sync.Mutex
		seen     = make(map[int]bool, total)
		wg       sync.WaitGroup
		stopFlag bool
	)

	wg.Add(stealers)
	for i := 0; i < stealers; i++ {
		go func() {
			defer wg.Done()
			for {
				res := s.Steal()
				if v, ok := res.Success(); ok {
					mu.Lock()
					require.False(t, seen[v])
					seen[v] = true
					mu.Unlock()
					continue
				}
				if res.IsEmpty() {
					mu.Lock()
					done := stopFlag
					mu.Unlock()
					if done {
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= total; i++ {
		d.Push(i)
	}

	for {
		v, ok := d.Pop()
		if !ok {
			break
		}
		mu.Lock()
		require.False(t, seen[v])
		seen[v] = true
		mu.Unlock()
	}

	mu.Lock()
	stopFlag = true
	mu.Unlock()

	wg.Wait()

	require.Len(t, seen, total)
}

func TestShrinkAfterDraining(t *testing.T) {
	d := NewWithMinCapacity[int](4)

	for i := 0; i < 256; i++ {
		d.Push(i)
	}

	for i := 0; i < 250; i++ {
		_, ok := d.Pop()
		require.True(t, ok)
	}

	require.Equal(t, 6, d.Len())

	g := d.inner.domain.Pin()
	capacity := d.inner.buf.Load(g).capacity()
	g.Unpin()
	assert.Less(t, capacity, int64(256), "buffer must have shrunk from its grown capacity")
	assert.GreaterOrEqual(t, capacity, int64(minCapacityFloor))
}

func TestHandleLifetimeNoSurvivingStealerUseAfterFree(t *testing.T) {
	d := New[int]()
	d.Push(1)

	s1 := d.Stealer()
	s2 := s1.Clone()

	_, _ = d.Pop()

	res := s1.Steal()
	require.True(t, res.IsEmpty())
	res = s2.Steal()
	require.True(t, res.IsEmpty())
}

func TestLenAndIsEmpty(t *testing.T) {
	d := New[int]()
	require.True(t, d.IsEmpty())
	require.Equal(t, 0, d.Len())

	d.Push(1)
	d.Push(2)
	require.False(t, d.IsEmpty())
	require.Equal(t, 2, d.Len())

	s := d.Stealer()
	require.Equal(t, 2, s.Len())
	require.False(t, s.IsEmpty())
}
