package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/blockcache/internal/block"
	"github.com/hupe1980/blockcache/internal/fs"
	"github.com/hupe1980/blockcache/internal/region"
)

const golden = 0x9E3779B97F4A7C15

// Store allocates blocks for values of keys of type K across a set of
// partitions.
type Store[K comparable] struct {
	cfg    Config
	set    *region.Set
	logger *slog.Logger
	seed   maphash.Seed

	parts  atomic.Pointer[[]*block.Manager]
	growMu sync.Mutex

	freeSeq atomic.Uint64
	freeMu  sync.Mutex
	freeCh  chan struct{}
	waiters int

	closed atomic.Bool
}

// New creates a store with the partitions described by cfg.
func New[K comparable](cfg Config, optFns ...Option) (*Store[K], error) {
	o := options{
		fs:     fs.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	cfg.applyDefaults()
	sizes, err := cfg.partitionSizes()
	if err != nil {
		return nil, err
	}

	set, err := region.NewSet(region.Options{
		Kind:          cfg.Backing.kind(),
		Path:          cfg.Path,
		FS:            o.fs,
		RemoveOnClose: cfg.RemoveOnClose,
		Resource:      o.resource,
	}, sizes)
	if err != nil {
		return nil, fmt.Errorf("storage: prepare partitions: %w", err)
	}

	s := &Store[K]{
		cfg:    cfg,
		set:    set,
		logger: o.logger,
		seed:   maphash.MakeSeed(),
		freeCh: make(chan struct{}),
	}

	parts := make([]*block.Manager, 0, len(sizes))
	for i, r := range set.Regions() {
		m, err := s.newManager(i, r)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		parts = append(parts, m)
	}
	s.parts.Store(&parts)

	s.logger.Debug("storage prepared",
		slog.String("backing", cfg.Backing.String()),
		slog.Int("partitions", len(parts)),
		slog.Int("block_size", cfg.BlockSize),
		slog.Int64("capacity", s.Capacity()),
	)
	return s, nil
}

func (s *Store[K]) newManager(id int, r region.Region) (*block.Manager, error) {
	m, err := block.NewManager(id, r, s.cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("storage: partition %d: %w", id, err)
	}
	m.SetOnFree(s.notifyFree)
	return m, nil
}

func (s *Store[K]) partitions() []*block.Manager { return *s.parts.Load() }

// BlockSize returns the block size in bytes.
func (s *Store[K]) BlockSize() int { return s.cfg.BlockSize }

// Backing returns the backing of every partition.
func (s *Store[K]) Backing() Backing { return s.cfg.Backing }

// Partitions returns the current number of partitions.
func (s *Store[K]) Partitions() int { return len(s.partitions()) }

// Capacity returns the total number of bytes across all partitions.
func (s *Store[K]) Capacity() int64 {
	var n int64
	for _, m := range s.partitions() {
		n += int64(m.Blocks()) * int64(m.BlockSize())
	}
	return n
}

// Available returns the number of bytes in free blocks.
func (s *Store[K]) Available() int64 {
	var n int64
	for _, m := range s.partitions() {
		n += int64(m.Available()) * int64(m.BlockSize())
	}
	return n
}

// Create stores data for key and returns its ref.
func (s *Store[K]) Create(ctx context.Context, key K, data []byte) (*Ref, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	blocks, err := s.allocate(ctx, key, 0, s.chunks(len(data)))
	if err != nil {
		return nil, err
	}
	if err := s.write(blocks, 0, data); err != nil {
		freeAll(blocks)
		return nil, err
	}
	return &Ref{blocks: blocks, length: len(data)}, nil
}

// CreateBatch stores every entry. Keys that could not be stored because no
// block was free are reported together in a *NoFreeBlockError; the refs of
// the successful keys are returned either way.
func (s *Store[K]) CreateBatch(ctx context.Context, entries map[K][]byte) (map[K]*Ref, error) {
	refs := make(map[K]*Ref, len(entries))
	var (
		failed []any
		errs   []error
	)
	for k, data := range entries {
		ref, err := s.Create(ctx, k, data)
		switch {
		case err == nil:
			refs[k] = ref
		case errors.Is(err, ErrNoFreeBlock):
			failed = append(failed, k)
		default:
			errs = append(errs, fmt.Errorf("storage: create %v: %w", k, err))
		}
	}
	if len(failed) > 0 {
		errs = append(errs, &NoFreeBlockError{Keys: failed})
	}
	return refs, errors.Join(errs...)
}

// Update overwrites the value held by ref. Blocks the ref already owns are
// reused in order; missing blocks are allocated before anything is written,
// and trailing blocks are freed when the new value is shorter.
func (s *Store[K]) Update(ctx context.Context, key K, data []byte, ref *Ref) error {
	if s.closed.Load() {
		return ErrClosed
	}

	ref.mu.Lock()
	defer ref.mu.Unlock()

	if ref.freed {
		return ErrRefFreed
	}

	need, have := s.chunks(len(data)), len(ref.blocks)

	var extra []block.Block
	if need > have {
		var err error
		extra, err = s.allocate(ctx, key, have, need-have)
		if err != nil {
			return err
		}
	}

	blocks := append(ref.blocks[:have:have], extra...)
	if err := s.write(blocks[:need], 0, data); err != nil {
		freeAll(extra)
		return err
	}

	if need < have {
		freeAll(blocks[need:])
	}
	ref.blocks = blocks[:need:need]
	ref.length = len(data)
	return nil
}

// Read returns a copy of the value held by ref.
func (s *Store[K]) Read(ref *Ref) ([]byte, error) {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	return ref.read(s.cfg.BlockSize)
}

// Remove frees every block of ref. Removing a freed ref is a no-op.
func (s *Store[K]) Remove(key K, ref *Ref) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if err := ref.release(); err != nil {
		return fmt.Errorf("storage: remove %v: %w", key, err)
	}
	return nil
}

// RemoveBatch frees the refs of every key.
func (s *Store[K]) RemoveBatch(refs map[K]*Ref) error {
	var errs []error
	for k, ref := range refs {
		if err := s.Remove(k, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Grow appends a partition of size bytes, rounded down to whole blocks.
// A non-positive size repeats the size of the first partition.
func (s *Store[K]) Grow(size int64) error {
	return s.grow(size, 0, nil)
}

// grow appends a partition while the store holds fewer than maxPartitions
// (0 means no limit). With a non-nil seq it appends nothing when a block was
// freed or a partition added since *seq was read.
func (s *Store[K]) grow(size int64, maxPartitions int, seq *uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}

	bs := int64(s.cfg.BlockSize)
	if size <= 0 {
		size = s.partitions()[0].Len()
	}
	size = min(size, s.cfg.Backing.MaxPartitionSize()) / bs * bs
	if size < bs {
		return fmt.Errorf("%w: partition smaller than one block", ErrInvalidConfig)
	}

	s.growMu.Lock()
	defer s.growMu.Unlock()

	if seq != nil && s.freeSeq.Load() != *seq {
		return nil
	}
	if maxPartitions > 0 && s.Partitions() >= maxPartitions {
		return ErrNoFreeBlock
	}

	regions, err := s.set.Add(size)
	if err != nil {
		return fmt.Errorf("storage: grow: %w", err)
	}

	old := s.partitions()
	m, err := s.newManager(len(old), regions[0])
	if err != nil {
		return err
	}

	parts := make([]*block.Manager, len(old), len(old)+1)
	copy(parts, old)
	parts = append(parts, m)
	s.parts.Store(&parts)

	s.logger.Info("storage grown",
		slog.Int("partitions", len(parts)),
		slog.Int64("partition_size", size),
	)

	// New blocks are as good as freed ones for anybody waiting.
	s.notifyFree()
	return nil
}

// Sync flushes file and mapped partitions to stable storage.
func (s *Store[K]) Sync() error {
	return s.set.Sync()
}

// Close releases every partition. Refs handed out earlier become unusable.
func (s *Store[K]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, m := range s.partitions() {
		_ = m.Close()
	}

	s.freeMu.Lock()
	close(s.freeCh)
	s.freeCh = make(chan struct{})
	s.freeMu.Unlock()

	return s.set.Close()
}

func (s *Store[K]) chunks(n int) int {
	return max(1, (n+s.cfg.BlockSize-1)/s.cfg.BlockSize)
}

// write copies data, starting at chunk position from, into blocks.
func (s *Store[K]) write(blocks []block.Block, from int, data []byte) error {
	bs := s.cfg.BlockSize
	for i, b := range blocks {
		lo := (from + i) * bs
		if lo >= len(data) {
			break
		}
		hi := min(lo+bs, len(data))
		if err := b.Manager().Put(b, 0, data[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

// allocate obtains n blocks for chunk positions from..from+n-1. On failure
// every block obtained by this call is freed again.
func (s *Store[K]) allocate(ctx context.Context, key K, from, n int) ([]block.Block, error) {
	blocks := make([]block.Block, 0, n)
	for pos := from; pos < from+n; pos++ {
		b, err := s.allocateOne(ctx, key, pos)
		if err != nil {
			freeAll(blocks)
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (s *Store[K]) allocateOne(ctx context.Context, key K, pos int) (block.Block, error) {
	for {
		if s.closed.Load() {
			return block.Block{}, ErrClosed
		}

		seq := s.freeSeq.Load()
		parts := s.partitions()
		start := s.route(key, pos, len(parts))
		for i := range parts {
			b, err := parts[(start+i)%len(parts)].Allocate()
			if err == nil {
				return b, nil
			}
			if !errors.Is(err, block.ErrFull) {
				return block.Block{}, err
			}
		}

		ex := &exhaustion[K]{s: s, seq: seq}
		if err := s.cfg.Rejection.Reject(ctx, ex); err != nil {
			return block.Block{}, err
		}
	}
}

func (s *Store[K]) route(key K, pos, n int) int {
	h := maphash.Comparable(s.seed, key)
	return int((h + uint64(pos)*golden) % uint64(n))
}

func (s *Store[K]) notifyFree() {
	s.freeSeq.Add(1)
	s.freeMu.Lock()
	if s.waiters > 0 {
		close(s.freeCh)
		s.freeCh = make(chan struct{})
	}
	s.freeMu.Unlock()
}

func freeAll(blocks []block.Block) {
	for _, b := range blocks {
		_ = b.Manager().Free(b)
	}
}

type exhaustion[K comparable] struct {
	s   *Store[K]
	seq uint64
}

func (e *exhaustion[K]) WaitForFree(ctx context.Context) error {
	s := e.s

	s.freeMu.Lock()
	if s.freeSeq.Load() != e.seq {
		s.freeMu.Unlock()
		return nil
	}
	s.waiters++
	ch := s.freeCh
	s.freeMu.Unlock()

	defer func() {
		s.freeMu.Lock()
		s.waiters--
		s.freeMu.Unlock()
	}()

	select {
	case <-ch:
		if s.closed.Load() {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

func (e *exhaustion[K]) Grow(size int64, maxPartitions int) error {
	return e.s.grow(size, maxPartitions, &e.seq)
}

func (e *exhaustion[K]) Partitions() int { return e.s.Partitions() }
