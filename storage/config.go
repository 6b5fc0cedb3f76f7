package storage

import (
	"fmt"

	"github.com/hupe1980/blockcache/internal/region"
)

// Backing selects where partitions keep their bytes.
type Backing uint8

const (
	// Heap keeps blocks in Go heap memory.
	Heap Backing = iota
	// Direct keeps blocks in anonymous memory outside the Go heap.
	Direct
	// File keeps blocks in a file using positional reads and writes.
	File
	// Mapped keeps blocks in a shared memory-mapped file.
	Mapped
)

func (b Backing) kind() region.Kind {
	switch b {
	case Direct:
		return region.KindDirect
	case File:
		return region.KindFile
	case Mapped:
		return region.KindMapped
	default:
		return region.KindHeap
	}
}

func (b Backing) String() string {
	if b > Mapped {
		return fmt.Sprintf("backing(%d)", uint8(b))
	}
	return b.kind().String()
}

// MaxPartitionSize returns the largest partition the backing supports.
func (b Backing) MaxPartitionSize() int64 { return b.kind().MaxSize() }

const (
	// DefaultBlockSize is used when Config.BlockSize is zero.
	DefaultBlockSize = 512
	// DefaultPartitions is used when neither Partitions nor PartitionSizes is set.
	DefaultPartitions = 1
)

// Config describes the partition set of a Store.
type Config struct {
	// Size is the total capacity in bytes. It is rounded down to whole blocks.
	// Ignored when PartitionSizes is set.
	Size int64
	// BlockSize is the size of one block. Must be at least 8.
	BlockSize int
	// Partitions splits Size into this many partitions. Raised automatically
	// when a partition would exceed the backing's maximum size.
	Partitions int
	// PartitionSizes sets explicit per-partition sizes instead of Size/Partitions.
	PartitionSizes []int64
	// Backing selects the region backing.
	Backing Backing
	// Path is the backing file for File and Mapped.
	Path string
	// RemoveOnClose deletes backing files on Close.
	RemoveOnClose bool
	// Rejection decides what happens when all partitions are full.
	// Defaults to Abort.
	Rejection RejectionPolicy
}

// DefaultConfig returns a heap-backed configuration of the given size.
func DefaultConfig(size int64) Config {
	return Config{
		Size:       size,
		BlockSize:  DefaultBlockSize,
		Partitions: DefaultPartitions,
		Backing:    Heap,
		Rejection:  Abort,
	}
}

func (c *Config) applyDefaults() {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Partitions == 0 {
		c.Partitions = DefaultPartitions
	}
	if c.Rejection == nil {
		c.Rejection = Abort
	}
}

// partitionSizes returns the size of every partition, each a whole number of
// blocks and at most the backing's maximum size.
func (c Config) partitionSizes() ([]int64, error) {
	bs := int64(c.BlockSize)
	if bs < 8 {
		return nil, fmt.Errorf("%w: block size %d < 8", ErrInvalidConfig, c.BlockSize)
	}

	limit := c.Backing.MaxPartitionSize() / bs * bs

	if len(c.PartitionSizes) > 0 {
		sizes := make([]int64, 0, len(c.PartitionSizes))
		for i, size := range c.PartitionSizes {
			size = min(size/bs*bs, limit)
			if size < bs {
				return nil, fmt.Errorf("%w: partition %d smaller than one block", ErrInvalidConfig, i)
			}
			sizes = append(sizes, size)
		}
		return sizes, nil
	}

	if c.Partitions < 1 {
		return nil, fmt.Errorf("%w: %d partitions", ErrInvalidConfig, c.Partitions)
	}

	blocks := c.Size / bs
	if blocks < 1 {
		return nil, fmt.Errorf("%w: size %d smaller than one block", ErrInvalidConfig, c.Size)
	}

	n := int64(c.Partitions)
	perLimit := limit / bs
	if need := (blocks + perLimit - 1) / perLimit; need > n {
		n = need
	}
	if n > blocks {
		n = blocks
	}

	sizes := make([]int64, n)
	per, rem := blocks/n, blocks%n
	for i := range sizes {
		b := per
		if int64(i) < rem {
			b++
		}
		sizes[i] = b * bs
	}
	return sizes, nil
}
