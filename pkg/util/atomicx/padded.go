// Package atomicx holds small atomic helpers used by pkg/wsdeque.
package atomicx

import "go.uber.org/atomic"

// cacheLineSize is the padding unit used to keep independently-updated
// counters on separate cache lines.
const cacheLineSize = 64

// PaddedInt64 is an atomic.Int64 padded out to a full cache line so it
// never shares one with a neighboring counter.
type PaddedInt64 struct {
	atomic.Int64
	_ [cacheLineSize - 8]byte
}
