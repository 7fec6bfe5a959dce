package wsdeque

// Design notes, not API:
//
// Circular array over linked nodes: push/pop stay wait-free with no
// per-element allocation or pointer chasing.
//
// Go exposes no relaxed or acquire/release atomics, only sequentially
// consistent ones (sync/atomic, and go.uber.org/atomic on top of it).
// Every load, store, and CAS in this package is therefore already at
// least as strong an ordering as the Chase-Lev algorithm's fences require;
// there is no weaker-ordering fast path to fall back to on this
// runtime, and none is needed for correctness.
//
// steal returns Retry instead of looping internally on CAS failure so a
// scheduler can choose a different victim on contention rather than spin
// on one that's being raced.
