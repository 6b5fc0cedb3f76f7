package blockcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/blockcache/codec"
	"github.com/hupe1980/blockcache/storage"
)

var (
	// ErrNoFreeBlock is returned when the store has no free block and its
	// rejection policy gives up.
	ErrNoFreeBlock = storage.ErrNoFreeBlock
	// ErrOutOfBounds is returned for block access outside the block.
	ErrOutOfBounds = storage.ErrOutOfBounds
	// ErrBlockFreed is returned for access through a freed block handle.
	ErrBlockFreed = storage.ErrBlockFreed
	// ErrRefFreed is returned when reading or updating a freed ref.
	ErrRefFreed = storage.ErrRefFreed
	// ErrInterrupted is returned when waiting for a free block is cancelled.
	ErrInterrupted = storage.ErrInterrupted
	// ErrInvalidEncoding is returned when stored bytes cannot be decoded.
	ErrInvalidEncoding = codec.ErrInvalidEncoding

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("blockcache: closed")
	// ErrVetoUnsupported is returned when background demotion is requested
	// over an index that cannot defer removals.
	ErrVetoUnsupported = errors.New("blockcache: index does not support deferred removal")
)

// NoFreeBlockError lists every key a batch could not store.
type NoFreeBlockError = storage.NoFreeBlockError

// OpError records the operation and key that failed.
//
// The original underlying error can be accessed via errors.Unwrap.
type OpError struct {
	Op    string
	Key   any
	cause error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("blockcache: %s %v: %v", e.Op, e.Key, e.cause)
}

func (e *OpError) Unwrap() error { return e.cause }

func translateError(op string, key any, err error) error {
	if err == nil {
		return nil
	}

	// Closed unification.
	if errors.Is(err, storage.ErrClosed) && !errors.Is(err, ErrClosed) {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var nfb *storage.NoFreeBlockError
	if errors.As(err, &nfb) {
		return err
	}
	return &OpError{Op: op, Key: key, cause: err}
}
