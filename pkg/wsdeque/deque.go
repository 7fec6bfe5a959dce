// Package wsdeque implements a concurrent work-stealing double-ended
// queue of the Chase-Lev family: one owner goroutine pushes and pops from
// the bottom, any number of stealer goroutines steal from the top. All
// three operations are lock-free; push and pop are wait-free on their
// uncontended path.
//
// The owner handle (Owner[T]) must not be shared across goroutines; move
// it, don't copy it. Stealer handles (Stealer[T]) are freely shareable
// and cheap to clone.
package wsdeque

import (
	"github.com/grafana/wsdeque/pkg/epoch"
	"github.com/grafana/wsdeque/pkg/util/atomicx"
)

// DefaultMinCapacity is the buffer capacity a deque starts at when no
// minimum is requested explicitly.
const DefaultMinCapacity = 32

// minCapacityFloor is the smallest buffer capacity a deque is ever
// allowed to shrink to, regardless of the minimum capacity requested.
const minCapacityFloor = 16

// innerState is the state shared between an Owner and every Stealer
// derived from it. top and bottom are padded onto separate cache lines:
// top is CAS'd by every stealer, bottom is stored by the owner on every
// push and pop, and letting them share a line would make every stealer's
// CAS invalidate the owner's cache of its own hot counter.
type innerState[T any] struct {
	top    atomicx.PaddedInt64
	bottom atomicx.PaddedInt64
	buf    epoch.Pointer[buffer[T]]

	domain      *epoch.Domain
	minCapacity int64
}

// New creates a deque with the default minimum capacity and returns its
// owner handle.
func New[T any]() Owner[T] {
	return NewWithMinCapacity[T](DefaultMinCapacity)
}

// NewWithMinCapacity creates a deque whose buffer never shrinks below
// minCapacity, rounded up to the next power of two and clamped to at
// least minCapacityFloor.
func NewWithMinCapacity[T any](minCapacity int) Owner[T] {
	if minCapacity < minCapacityFloor {
		minCapacity = minCapacityFloor
	}
	capacity := nextPow2(int64(minCapacity))

	inner := &innerState[T]{
		domain:      epoch.NewDomain(),
		minCapacity: capacity,
	}
	inner.buf.Store(newBuffer[T](capacity))

	return Owner[T]{inner: inner}
}

// push adds v to the bottom of the deque. Wait-free on the owner's
// uncontended path, growing the buffer when it is full.
func (s *innerState[T]) push(v T) {
	b := s.bottom.Load()
	t := s.top.Load()

	g := s.domain.Pin()
	defer g.Unpin()

	buf := s.buf.Load(g)
	if b-t >= buf.capacity() {
		buf = s.resize(buf, buf.grow(t, b))
	}

	buf.write(b, v)
	s.bottom.Store(b + 1)
}

// pop removes and returns the value at the bottom of the deque, including
// the contested-last-element race against a concurrent steal.
func (s *innerState[T]) pop() (v T, ok bool) {
	b := s.bottom.Load()
	bPrime := b - 1

	g := s.domain.Pin()
	defer g.Unpin()

	buf := s.buf.Load(g)
	s.bottom.Store(bPrime)

	t := s.top.Load()
	if t > bPrime {
		// deque was already empty; undo the tentative claim.
		s.bottom.Store(t)
		var zero T
		return zero, false
	}

	v = buf.read(bPrime)

	finalTop := t
	if t == bPrime {
		// exactly one element remained: race a concurrent steal for it.
		won := s.top.CompareAndSwap(t, t+1)
		finalTop = t + 1
		s.bottom.Store(finalTop)
		if !won {
			var zero T
			return zero, false
		}
	}

	s.maybeShrink(g, buf, finalTop, s.bottom.Load())
	return v, true
}

// steal takes the value at the top of the deque. Lock-free; may return
// Retry on CAS contention rather than looping internally.
func (s *innerState[T]) steal() Steal[T] {
	t := s.top.Load()
	b := s.bottom.Load()
	if t >= b {
		return Steal[T]{kind: stealEmpty}
	}

	g := s.domain.Pin()
	defer g.Unpin()

	buf := s.buf.Load(g)
	v := buf.read(t)

	if !s.top.CompareAndSwap(t, t+1) {
		return Steal[T]{kind: stealRetry}
	}

	return Steal[T]{kind: stealData, value: v}
}

func (s *innerState[T]) resize(old, next *buffer[T]) *buffer[T] {
	s.buf.Store(next)
	s.domain.Retire(func() { _ = old })
	return next
}

// maybeShrink halves the buffer's capacity when warranted: only after a
// successful pop, only when the live range has dropped to a quarter of
// capacity, and only when the halved capacity would still be at least
// minCapacity.
func (s *innerState[T]) maybeShrink(g *epoch.Guard, buf *buffer[T], t, bottom int64) {
	capacity := buf.capacity()
	if capacity/2 < s.minCapacity {
		return
	}
	if bottom-t > capacity/4 {
		return
	}

	shrunk := buf.shrink(t, bottom)
	s.resize(buf, shrunk)
}

func (s *innerState[T]) length() int {
	b := s.bottom.Load()
	t := s.top.Load()
	if b <= t {
		return 0
	}
	return int(b - t)
}

func (s *innerState[T]) isEmpty() bool {
	return s.bottom.Load() <= s.top.Load()
}
