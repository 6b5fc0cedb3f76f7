package storage

import (
	"errors"
	"fmt"

	"github.com/hupe1980/blockcache/internal/block"
)

var (
	// ErrNoFreeBlock is returned when all partitions are exhausted and the
	// rejection policy gives up.
	ErrNoFreeBlock = errors.New("storage: no free block")
	// ErrInterrupted is returned when a wait for a free block is cancelled.
	ErrInterrupted = errors.New("storage: interrupted while waiting for a free block")
	// ErrRefFreed is returned when reading or updating a freed ref.
	ErrRefFreed = errors.New("storage: ref already freed")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("storage: closed")
	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = errors.New("storage: invalid config")

	// ErrOutOfBounds is returned for block-relative access outside [0, blockSize).
	ErrOutOfBounds = block.ErrOutOfBounds
	// ErrBlockFreed is returned when a block handle has been freed or reused.
	ErrBlockFreed = block.ErrBlockFreed
)

// NoFreeBlockError reports every key a batch operation could not store.
//
// It matches ErrNoFreeBlock with errors.Is.
type NoFreeBlockError struct {
	Keys []any
}

func (e *NoFreeBlockError) Error() string {
	return fmt.Sprintf("storage: no free block for %d key(s)", len(e.Keys))
}

// Is reports whether target is ErrNoFreeBlock.
func (e *NoFreeBlockError) Is(target error) bool {
	return target == ErrNoFreeBlock
}
