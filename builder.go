// This file implements the fluent builder for creating and configuring caches.
// Builders are immutable - each method returns a new builder with the updated configuration.

package blockcache

import (
	"fmt"
	"slices"

	"github.com/hupe1980/blockcache/codec"
	"github.com/hupe1980/blockcache/index"
	"github.com/hupe1980/blockcache/resource"
	"github.com/hupe1980/blockcache/storage"
)

// DefaultSize is the store capacity used when Size is not called.
const DefaultSize = 16 << 20

// NewBuilder creates a cache builder. Without further calls it builds an
// unbounded, heap-backed cache of DefaultSize bytes in 512-byte blocks.
//
// The builder is immutable - each method returns a new builder with the updated configuration.
// This ensures thread-safety and prevents accidental state sharing.
//
// Example:
//
//	c, err := blockcache.NewBuilder[string, []byte]().
//	    Mapped("/var/cache/app.blocks").
//	    Size(1 << 30).
//	    Partitions(8).
//	    LRU(1_000_000).
//	    Codec(codec.Bytes{}).
//	    Build()
func NewBuilder[K comparable, V any]() Builder[K, V] {
	cfg := storage.DefaultConfig(DefaultSize)
	return Builder[K, V]{
		storage: cfg,
		index:   index.Config{Kind: index.KindUnbounded},
	}
}

// Builder is an immutable fluent builder for creating Cache instances.
// Each method returns a new builder with the updated configuration.
type Builder[K comparable, V any] struct {
	storage  storage.Config
	index    index.Config
	codec    codec.Codec[V]
	logger   *Logger
	metrics  MetricsCollector
	resource *resource.Controller
}

// Heap keeps blocks in Go heap memory.
func (b Builder[K, V]) Heap() Builder[K, V] {
	b.storage.Backing = storage.Heap
	return b
}

// Direct keeps blocks in anonymous memory outside the Go heap.
func (b Builder[K, V]) Direct() Builder[K, V] {
	b.storage.Backing = storage.Direct
	return b
}

// File keeps blocks in the file at path, accessed with positional IO.
func (b Builder[K, V]) File(path string) Builder[K, V] {
	b.storage.Backing = storage.File
	b.storage.Path = path
	return b
}

// Mapped keeps blocks in a shared memory mapping of the file at path.
func (b Builder[K, V]) Mapped(path string) Builder[K, V] {
	b.storage.Backing = storage.Mapped
	b.storage.Path = path
	return b
}

// RemoveOnClose deletes the backing files when the cache is closed.
func (b Builder[K, V]) RemoveOnClose(remove bool) Builder[K, V] {
	b.storage.RemoveOnClose = remove
	return b
}

// Size sets the total store capacity in bytes.
func (b Builder[K, V]) Size(bytes int64) Builder[K, V] {
	b.storage.Size = bytes
	return b
}

// BlockSize sets the block size in bytes. Must be at least 8.
func (b Builder[K, V]) BlockSize(n int) Builder[K, V] {
	b.storage.BlockSize = n
	return b
}

// Partitions splits the store into n partitions.
func (b Builder[K, V]) Partitions(n int) Builder[K, V] {
	b.storage.Partitions = n
	return b
}

// PartitionSizes sets explicit per-partition sizes, replacing Size and
// Partitions.
func (b Builder[K, V]) PartitionSizes(sizes ...int64) Builder[K, V] {
	b.storage.PartitionSizes = slices.Clone(sizes)
	return b
}

// Rejection sets the policy applied when every partition is full.
func (b Builder[K, V]) Rejection(p storage.RejectionPolicy) Builder[K, V] {
	b.storage.Rejection = p
	return b
}

// WaitForFreeBlock makes writes block until a block is freed.
func (b Builder[K, V]) WaitForFreeBlock() Builder[K, V] {
	return b.Rejection(storage.WaitForFreeBlock)
}

// Unbounded selects an index that never evicts.
func (b Builder[K, V]) Unbounded() Builder[K, V] {
	b.index.Kind = index.KindUnbounded
	b.index.Capacity = 0
	return b
}

// LRU selects an index evicting the least recently used entry beyond
// capacity entries.
func (b Builder[K, V]) LRU(capacity int) Builder[K, V] {
	b.index.Kind = index.KindLRU
	b.index.Capacity = capacity
	return b
}

// FIFO selects an index evicting the oldest inserted entry beyond capacity
// entries.
func (b Builder[K, V]) FIFO(capacity int) Builder[K, V] {
	b.index.Kind = index.KindFIFO
	b.index.Capacity = capacity
	return b
}

// SingleThreaded selects the unsynchronized bounded index. The caller must
// serialize all access; eviction vetoes are not honored.
func (b Builder[K, V]) SingleThreaded() Builder[K, V] {
	b.index.SingleThreaded = true
	return b
}

// Segments sets the lock striping of the concurrent bounded index.
func (b Builder[K, V]) Segments(n int) Builder[K, V] {
	b.index.Segments = n
	return b
}

// Codec sets the value codec. Defaults to codec.Default.
func (b Builder[K, V]) Codec(c codec.Codec[V]) Builder[K, V] {
	b.codec = c
	return b
}

// Logger sets the logger.
func (b Builder[K, V]) Logger(l *Logger) Builder[K, V] {
	b.logger = l
	return b
}

// Metrics sets the metrics collector.
func (b Builder[K, V]) Metrics(mc MetricsCollector) Builder[K, V] {
	b.metrics = mc
	return b
}

// ResourceController accounts heap and direct store memory against rc.
func (b Builder[K, V]) ResourceController(rc *resource.Controller) Builder[K, V] {
	b.resource = rc
	return b
}

// Build creates the cache.
func (b Builder[K, V]) Build() (*Cache[K, V], error) {
	idx, err := index.New[K, *storage.Ref](b.index)
	if err != nil {
		return nil, fmt.Errorf("blockcache: index: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = NoopLogger()
	}

	store, err := storage.New[K](b.storage,
		storage.WithResourceController(b.resource),
		storage.WithLogger(logger.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("blockcache: storage: %w", err)
	}

	c, err := New(idx, store, b.codec, WithLogger(logger), WithMetricsCollector(b.metrics))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// MustBuild creates the cache and panics on error.
// Use this only when you're certain the configuration is valid.
func (b Builder[K, V]) MustBuild() *Cache[K, V] {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
