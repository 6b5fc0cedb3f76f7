package storage

import (
	"sync"

	"github.com/hupe1980/blockcache/internal/block"
)

// Ref is the storage handle of one entry: the ordered blocks holding its
// encoded bytes and their total length.
//
// A Ref is safe for concurrent use. Reads take the ref's read lock; updates
// and removal take its write lock.
type Ref struct {
	mu     sync.RWMutex
	blocks []block.Block
	length int
	freed  bool
}

// Len returns the encoded length in bytes.
func (r *Ref) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.length
}

// Blocks returns the number of blocks the ref owns.
func (r *Ref) Blocks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks)
}

// Freed reports whether the ref's blocks have been released.
func (r *Ref) Freed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.freed
}

// read concatenates the ref's chunks. Callers hold at least the read lock.
func (r *Ref) read(blockSize int) ([]byte, error) {
	if r.freed {
		return nil, ErrRefFreed
	}
	buf := make([]byte, r.length)
	for i, b := range r.blocks {
		lo := i * blockSize
		hi := min(lo+blockSize, r.length)
		if err := b.Manager().Get(b, 0, buf[lo:hi]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// release frees every block. Callers hold the write lock.
func (r *Ref) release() error {
	if r.freed {
		return nil
	}
	var first error
	for _, b := range r.blocks {
		if err := b.Manager().Free(b); err != nil && first == nil {
			first = err
		}
	}
	r.blocks = nil
	r.length = 0
	r.freed = true
	return first
}
