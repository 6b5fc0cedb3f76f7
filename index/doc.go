// Package index provides the key to value indexes that decide which entries a
// cache keeps.
//
// Three implementations share the Index interface:
//
//   - NewUnbounded: never evicts; guarded by an RWMutex
//   - NewBounded: LRU or FIFO with a fixed capacity and no internal locking
//   - NewConcurrent: LRU or FIFO over a segment-locked map with one global
//     eviction order, a mutable capacity and deferred removal
//
// # Events
//
// Listeners observe puts, removals and discards. When a bounded index goes
// over capacity it offers its oldest live entry to every listener's
// OnDiscard. If all of them return true the entry is removed and OnRemove
// follows. If any returns false the concurrent index keeps the entry flagged
// ready-to-remove: it no longer counts against the capacity, stays readable,
// and is finalized later with RemoveDeferred (no OnRemove is emitted then).
// A put on a ready key revives it and RemoveDeferred fails.
//
// The single-threaded bounded index cannot defer: it always removes.
package index
