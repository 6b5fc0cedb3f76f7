package mem

import (
	"unsafe"
)

// Alignment is the byte alignment of heap regions (one cache line on most CPUs).
const Alignment = 64

// AllocAligned allocates a zeroed byte slice of the given size whose first
// byte sits on an Alignment boundary.
//
// The slice capacity is clipped to size, so appends never spill into the
// alignment padding.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := int((Alignment - (addr & (Alignment - 1))) & (Alignment - 1))

	return buf[offset : offset+size : offset+size]
}
