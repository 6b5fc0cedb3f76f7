// Package evictmap provides a segment-locked hash map that keeps one global
// eviction order across all segments.
//
// Entries are spread over segments, each guarded by its own RWMutex. The
// order chain is a doubly linked list of nodes stored in one arena slice and
// addressed by int32 handles, guarded by a single order lock. A segment lock
// is always taken before the order lock.
//
// After every put the oldest entry not flagged ready is handed to the
// configured Decide function, with no lock held. Decide may evict the entry
// now (Remove), keep it (DoNothing), or flag it ReadyToRemove: a ready entry
// stays readable and writable but no longer counts as live and is skipped by
// later scans, until RemoveReady finalizes it or a put revives it.
package evictmap
