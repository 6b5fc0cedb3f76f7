// Package storage implements the partitioned block store that holds the
// encoded bytes of cache entries.
//
// # Partitions
//
// A Store spreads its capacity over N block managers (partitions), each
// owning one region of the configured backing (heap, direct, file or
// mapped). Values are split into blockSize chunks; chunk i of key k goes to
// partition hash(k, i) mod N, and on a full partition the remaining
// partitions are probed once in order.
//
// # Rejection
//
// When every partition is full the store consults its RejectionPolicy:
//
//   - Abort fails the call with ErrNoFreeBlock
//   - WaitForFreeBlock blocks until another goroutine frees a block
//   - Grow appends a new partition, up to a limit
//
// Waiting honors context cancellation; the blocks allocated by the
// interrupted call are released before ErrInterrupted is returned.
//
// # Refs
//
// A Ref is the handle to one entry's blocks. Updates reuse the blocks a ref
// already owns, allocate extra blocks before writing anything, and release
// trailing blocks when the value shrinks.
package storage
