// Package block manages fixed-size blocks inside a single region.
//
// # Free List
//
// Free blocks form an intrusive singly linked list: the first 8 bytes of each
// free block hold the link to the next free block, so the allocator needs no
// side storage for the list itself. The manager only remembers the byte
// offsets of the head and the tail (-1 when the list is empty).
//
// A link is stored as a delta rather than an absolute offset:
//
//	next = (cur + delta + blockSize) mod regionLength
//
// A freshly zeroed region therefore already describes the list
// 0 -> 1 -> ... -> N-1, and freeing appends to the tail, so blocks are reused
// in the order they were freed (FIFO).
//
// # Handles
//
// Every allocation bumps a per-block generation that is copied into the
// returned Block. Freeing a block that is already free, or using a handle
// whose generation is stale, is detected: Free becomes a no-op and Get/Put
// return ErrBlockFreed.
//
// # Locking
//
// The manager lock guards head, tail, the free set and generations. A second
// read/write lock guards the region bytes and is shared by link words and
// ordinary block data. The manager lock is always taken first.
package block
