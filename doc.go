// Package blockcache provides an embeddable key-value cache whose values live
// in fixed-size blocks on a pluggable backing.
//
// # Quick Start
//
//	c, err := blockcache.NewBuilder[string, User]().
//	    Heap().
//	    Size(64 << 20).     // 64MB of blocks
//	    BlockSize(512).
//	    LRU(100_000).       // at most 100k entries
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	_ = c.Put(ctx, "alice", User{Name: "Alice"})
//	u, ok, err := c.Get(ctx, "alice")
//
// # Backings
//
//   - Heap: Go heap memory
//   - Direct: anonymous memory outside the Go heap, invisible to the GC
//   - File: a file accessed with positional reads and writes
//   - Mapped: a shared memory-mapped file
//
// # Eviction
//
// The index decides which entries stay: unbounded, LRU or FIFO. When a
// bounded index is over capacity it offers its oldest entry to the cache's
// eviction listeners; a listener may veto the removal to finish it later.
//
// # Tiers
//
// A CompoundCache stacks a main Cache over a sub Tier, for example a heap
// cache over a mapped-file cache or over a blob tier on S3. Entries evicted
// from the main cache are demoted into the sub tier, synchronously or by a
// background worker, and may be promoted back on read:
//
//	cc, err := blockcache.NewCompound(hot, cold,
//	    blockcache.WithBackgroundDemotion(1024),
//	    blockcache.WithPromoteOnGet(),
//	)
//
// # Errors
//
// Errors are sentinel values compared with errors.Is, see ErrNoFreeBlock,
// ErrRefFreed, ErrInvalidEncoding and friends.
package blockcache
