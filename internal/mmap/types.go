package mmap

import "errors"

// AccessPattern is an madvise hint for a mapping or view.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	// AccessSequential suits whole-blob copies.
	AccessSequential
	// AccessRandom suits block-cache partitions, where blocks are touched in
	// allocation order rather than address order.
	AccessRandom
	AccessWillNeed
	// AccessDontNeed lets the kernel drop the pages; a file mapping reloads
	// them from the file, an anonymous one reads as zeros.
	AccessDontNeed
)

func (p AccessPattern) String() string {
	switch p {
	case AccessSequential:
		return "sequential"
	case AccessRandom:
		return "random"
	case AccessWillNeed:
		return "willneed"
	case AccessDontNeed:
		return "dontneed"
	default:
		return "default"
	}
}

var (
	// ErrClosed is returned when accessing a closed mapping or one of its views.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for an empty, negative or too small mapping size.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for a view or read outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)
