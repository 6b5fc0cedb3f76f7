// Package region provides the contiguous byte spaces that block managers carve
// into fixed-size blocks.
//
// # Backings
//
//   - KindHeap: a cache-line aligned Go slice (see internal/mem)
//   - KindDirect: an anonymous mapping outside the Go heap (see internal/mmap)
//   - KindFile: a section of a file accessed with ReadAt/WriteAt
//   - KindMapped: a view into a shared read-write file mapping
//
// The backing is chosen once, when a Set is created; every region of a Set
// has the same kind. All regions read as zeros when first handed out.
//
// # Concurrency
//
// Regions perform no locking of their own. A region belongs to exactly one
// block manager, which serializes access to its bytes.
package region
