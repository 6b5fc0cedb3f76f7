package storage

import (
	"context"
	"errors"
	"fmt"
)

// Exhaustion is handed to a RejectionPolicy when every partition is full.
type Exhaustion interface {
	// WaitForFree blocks until a block has been freed since the failed
	// allocation attempt, or ctx is done.
	WaitForFree(ctx context.Context) error
	// Grow appends a partition of size bytes unless the store already holds
	// maxPartitions partitions (0 means no limit), in which case it returns
	// ErrNoFreeBlock. It appends nothing and returns nil when a block was
	// freed or a partition added since the failed attempt, so concurrent
	// exhausters grow the store once.
	Grow(size int64, maxPartitions int) error
	// Partitions returns the current partition count.
	Partitions() int
}

// RejectionPolicy decides what an allocation does once every partition is
// exhausted. Returning nil retries the allocation; returning an error fails it.
type RejectionPolicy interface {
	Reject(ctx context.Context, ex Exhaustion) error
}

// RejectionFunc adapts a function to RejectionPolicy.
type RejectionFunc func(ctx context.Context, ex Exhaustion) error

// Reject implements RejectionPolicy.
func (f RejectionFunc) Reject(ctx context.Context, ex Exhaustion) error { return f(ctx, ex) }

var (
	// Abort fails the operation with ErrNoFreeBlock.
	Abort RejectionPolicy = RejectionFunc(func(context.Context, Exhaustion) error {
		return ErrNoFreeBlock
	})

	// WaitForFreeBlock blocks until another goroutine frees a block, then retries.
	WaitForFreeBlock RejectionPolicy = RejectionFunc(func(ctx context.Context, ex Exhaustion) error {
		return ex.WaitForFree(ctx)
	})
)

// Grow appends a partition of PartitionSize bytes on exhaustion until the
// store holds MaxPartitions partitions; after that it behaves like Abort.
// A zero PartitionSize repeats the size of the first partition, and a zero
// MaxPartitions means no limit.
type Grow struct {
	PartitionSize int64
	MaxPartitions int
}

// Reject implements RejectionPolicy.
func (g Grow) Reject(_ context.Context, ex Exhaustion) error {
	err := ex.Grow(g.PartitionSize, g.MaxPartitions)
	if err == nil || errors.Is(err, ErrNoFreeBlock) {
		return err
	}
	return fmt.Errorf("%w: grow: %w", ErrNoFreeBlock, err)
}
