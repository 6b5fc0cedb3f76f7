package region

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// Kind selects the region backing.
type Kind uint8

const (
	// KindHeap stores blocks in Go heap memory.
	KindHeap Kind = iota
	// KindDirect stores blocks in off-heap anonymous memory.
	KindDirect
	// KindFile stores blocks in a file through positional IO.
	KindFile
	// KindMapped stores blocks in a memory-mapped file.
	KindMapped
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindDirect:
		return "direct"
	case KindFile:
		return "file"
	case KindMapped:
		return "mapped"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MaxSize returns the largest contiguous region the backing supports.
// Heap, direct and mapped regions are addressed through a single slice and
// are capped at 2 GiB - 1 so offsets fit an int32 on every platform.
func (k Kind) MaxSize() int64 {
	switch k {
	case KindFile:
		return math.MaxInt64
	default:
		return math.MaxInt32
	}
}

var (
	// ErrOutOfRange is returned for reads or writes beyond the region length.
	ErrOutOfRange = errors.New("region: access out of range")
	// ErrClosed is returned when accessing a closed region or set.
	ErrClosed = errors.New("region: closed")
	// ErrInvalidSize is returned for non-positive or oversized regions.
	ErrInvalidSize = errors.New("region: invalid size")
	// ErrUnknownKind is returned for an unsupported backing kind.
	ErrUnknownKind = errors.New("region: unknown backing kind")
)

// Region is a contiguous byte space of fixed length.
type Region interface {
	io.ReaderAt
	io.WriterAt
	// Len returns the region length in bytes.
	Len() int64
	// Kind returns the backing kind.
	Kind() Kind
	// Close releases the region's memory or file handle share.
	Close() error
}

func checkRange(off int64, n int, length int64) error {
	if off < 0 || off+int64(n) > length {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, off+int64(n), length)
	}
	return nil
}

// sliceRegion serves heap, direct and mapped regions, which all expose their
// bytes as one slice.
type sliceRegion struct {
	kind    Kind
	data    []byte
	release func() error
}

func (r *sliceRegion) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), int64(len(r.data))); err != nil {
		return 0, err
	}
	return copy(p, r.data[off:]), nil
}

func (r *sliceRegion) WriteAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), int64(len(r.data))); err != nil {
		return 0, err
	}
	return copy(r.data[off:], p), nil
}

func (r *sliceRegion) Len() int64 { return int64(len(r.data)) }

func (r *sliceRegion) Kind() Kind { return r.kind }

func (r *sliceRegion) Close() error {
	if r.data == nil {
		return nil
	}
	r.data = nil
	if r.release != nil {
		return r.release()
	}
	return nil
}
