// Package mmap provides memory mappings used as block-cache regions.
//
// # Overview
//
// Three kinds of mappings are supported:
//
//   - Open maps an existing file read-only (blob reads).
//   - OpenRW maps a file read-write and shared, so writes reach the page cache
//     and eventually the file (mapped region backing).
//   - MapAnon creates a private anonymous read-write mapping that lives
//     outside the Go heap (direct region backing).
//
// # Usage
//
//	m, err := mmap.OpenRW(f, 64<<20)
//	if err != nil { ... }
//	defer m.Close()
//
//	// Partition the mapping into independent views
//	v, _ := m.View(0, 16<<20)
//	_ = v.Advise(mmap.AccessRandom)
//	copy(v.Bytes(), payload)
//
//	// Write dirty pages back
//	_ = m.Sync()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2) and madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile and VirtualAlloc (madvise is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must
// ensure no goroutines touch Bytes() after Close() returns; the block manager
// serializes all region access behind its own lock.
package mmap
