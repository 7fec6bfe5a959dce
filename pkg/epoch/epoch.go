// Package epoch implements the reclamation collaborator the core deque
// in pkg/wsdeque consumes: a pin guard, an atomic shared-pointer slot, and
// retire-on-guard deferred destruction.
//
// Go's garbage collector already guarantees a retired buffer is never
// freed while any goroutine holds a reference to it, so this package does
// not free memory itself. What it gives pkg/wsdeque is the same protocol a
// manual-memory-management language needs: a way to know when it is safe
// to run the diagnostic side effects of retirement (counting, sanitizer
// hooks in tests) without racing a stealer that is still mid-read of the
// buffer being replaced.
package epoch

import (
	"sync"

	"go.uber.org/atomic"
)

// Domain tracks a global epoch, the set of currently pinned guards, and
// objects retired but not yet safe to reclaim.
type Domain struct {
	epoch atomic.Uint64

	mu      sync.Mutex
	pinned  map[*Guard]uint64
	waiting []retirement
}

type retirement struct {
	atEpoch uint64
	free    func()
}

// NewDomain creates an empty reclamation domain.
func NewDomain() *Domain {
	d := &Domain{
		pinned: make(map[*Guard]uint64),
	}
	d.epoch.Store(1) // epoch 0 means "never pinned"
	return d
}

// Guard represents a pinned section of code that may dereference pointers
// loaded from this domain's Pointer slots.
type Guard struct {
	domain *Domain
	epoch  uint64
}

// Pin marks the calling goroutine as about to dereference a pointer
// loaded from one of this domain's Pointer slots. The returned Guard must
// be released with Unpin.
func (d *Domain) Pin() *Guard {
	g := &Guard{domain: d, epoch: d.epoch.Load()}

	d.mu.Lock()
	d.pinned[g] = g.epoch
	d.mu.Unlock()

	return g
}

// Unpin releases a guard acquired from Pin, allowing any retirement that
// could not have been observed by it to proceed.
func (g *Guard) Unpin() {
	if g == nil {
		return
	}
	d := g.domain
	d.mu.Lock()
	delete(d.pinned, g)
	d.mu.Unlock()
	d.reclaim()
}

// Pointer is an atomically swappable pointer to a T, read only through a
// Guard obtained from the same Domain.
type Pointer[T any] struct {
	p atomic.Pointer[T]
}

// Load reads the current pointer. g must be a guard pinned on the same
// Domain that will eventually Retire the value being read.
func (s *Pointer[T]) Load(_ *Guard) *T {
	return s.p.Load()
}

// Store publishes a new pointer value.
func (s *Pointer[T]) Store(v *T) {
	s.p.Store(v)
}

// CAS attempts to atomically replace old with new.
func (s *Pointer[T]) CAS(old, new *T) bool {
	return s.p.CompareAndSwap(old, new)
}

// Retire advances the domain's epoch and schedules free to run once every
// guard pinned at the moment of the call has unpinned. free is advisory:
// the pointee is not actually released by this package, Go's collector
// already owns that decision, but tests use it to observe that a pinned
// guard delays the retirement.
func (d *Domain) Retire(free func()) {
	at := d.epoch.Add(1)

	d.mu.Lock()
	d.waiting = append(d.waiting, retirement{atEpoch: at, free: free})
	d.mu.Unlock()

	d.reclaim()
}

// reclaim runs the free callback of every retirement whose epoch predates
// every currently pinned guard.
func (d *Domain) reclaim() {
	d.mu.Lock()

	min := d.epoch.Load()
	for _, e := range d.pinned {
		if e < min {
			min = e
		}
	}

	ready := d.waiting[:0:0]
	remaining := d.waiting[:0:0]
	for _, r := range d.waiting {
		if r.atEpoch <= min {
			ready = append(ready, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	d.waiting = remaining

	d.mu.Unlock()

	for _, r := range ready {
		r.free()
	}
}

// Pending reports the number of retirements not yet reclaimed. Exposed for
// tests and diagnostics, not part of the collaborator contract.
func (d *Domain) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiting)
}
