package blockcache

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/blockcache/codec"
	"github.com/hupe1980/blockcache/index"
	"github.com/hupe1980/blockcache/storage"
)

const keyStripes = 64

// EvictionListener is offered every entry the cache's index wants to evict,
// before its blocks are freed. Returning false vetoes the removal; on an
// index implementing index.Deferrable the entry then stays readable until
// it is finalized with RemoveDeferred.
type EvictionListener[K comparable] interface {
	OnEvict(k K, ref *storage.Ref) bool
}

// EvictionFunc adapts a function to EvictionListener.
type EvictionFunc[K comparable] func(k K, ref *storage.Ref) bool

// OnEvict implements EvictionListener.
func (f EvictionFunc[K]) OnEvict(k K, ref *storage.Ref) bool { return f(k, ref) }

// Cache binds an index of refs to the block store holding the encoded
// values. Index events are translated into store operations: an entry that
// leaves the index has its blocks freed.
//
// Cache is safe for concurrent use when its index is. Puts and removals of
// the same key are serialized.
type Cache[K comparable, V any] struct {
	idx   index.Index[K, *storage.Ref]
	store *storage.Store[K]
	codec codec.Codec[V]

	logger  *Logger
	metrics MetricsCollector

	seed  maphash.Seed
	locks [keyStripes]sync.Mutex

	evmu sync.Mutex
	evl  atomic.Pointer[[]EvictionListener[K]]

	closed atomic.Bool
}

// New creates a cache over idx and store. The cache takes ownership of both:
// Close clears the index and closes the store. A nil codec selects
// codec.Default.
func New[K comparable, V any](idx index.Index[K, *storage.Ref], store *storage.Store[K], c codec.Codec[V], optFns ...Option) (*Cache[K, V], error) {
	if idx == nil {
		return nil, errors.New("blockcache: index is required")
	}
	if store == nil {
		return nil, errors.New("blockcache: store is required")
	}
	if c == nil {
		c = codec.Default[V]()
	}

	o := applyOptions(optFns)
	cache := &Cache[K, V]{
		idx:     idx,
		store:   store,
		codec:   c,
		logger:  o.logger.WithBacking(store.Backing().String()),
		metrics: o.metricsCollector,
		seed:    maphash.MakeSeed(),
	}

	idx.AddListener(index.ListenerFuncs[K, *storage.Ref]{
		Remove:  cache.onRemove,
		Discard: cache.onDiscard,
	})
	return cache, nil
}

func (c *Cache[K, V]) onRemove(k K, ref *storage.Ref) {
	if err := c.store.Remove(k, ref); err != nil {
		c.logger.LogRemove(context.Background(), k, err)
	}
}

func (c *Cache[K, V]) onDiscard(_ index.Index[K, *storage.Ref], k K, ref *storage.Ref) bool {
	ok := true
	for _, l := range c.evictionListeners() {
		if !l.OnEvict(k, ref) {
			ok = false
		}
	}
	c.metrics.RecordEviction(!ok)
	c.logger.LogEviction(context.Background(), k, !ok)
	return ok
}

// AddEvictionListener registers l for future evictions.
func (c *Cache[K, V]) AddEvictionListener(l EvictionListener[K]) {
	c.evmu.Lock()
	defer c.evmu.Unlock()

	var next []EvictionListener[K]
	if cur := c.evl.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	c.evl.Store(&next)
}

func (c *Cache[K, V]) evictionListeners() []EvictionListener[K] {
	if cur := c.evl.Load(); cur != nil {
		return *cur
	}
	return nil
}

func (c *Cache[K, V]) lock(k K) *sync.Mutex {
	return &c.locks[maphash.Comparable(c.seed, k)%keyStripes]
}

// Get returns the value of k.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (v V, found bool, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGet(found, time.Since(start), err)
	}()

	if c.closed.Load() {
		return v, false, ErrClosed
	}

	ref, ok := c.idx.Get(k)
	if !ok {
		return v, false, nil
	}
	v, found, err = c.decode(ref)
	if err != nil {
		c.logger.ErrorContext(ctx, "get failed", "key", k, "error", err)
		return v, false, translateError("get", k, err)
	}
	return v, found, nil
}

// decode reads and decodes ref. A ref freed by a concurrent eviction reads
// as a miss.
func (c *Cache[K, V]) decode(ref *storage.Ref) (V, bool, error) {
	var zero V
	data, err := c.store.Read(ref)
	if errors.Is(err, storage.ErrRefFreed) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := c.codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Decode returns the value held by ref. It reports false if the ref has
// already been freed.
func (c *Cache[K, V]) Decode(ref *storage.Ref) (V, bool, error) {
	return c.decode(ref)
}

// GetAll returns the values of every present key.
func (c *Cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	out := make(map[K]V, len(keys))
	var errs []error
	for k, ref := range c.idx.GetAll(keys) {
		v, ok, err := c.decode(ref)
		if err != nil {
			errs = append(errs, translateError("get", k, err))
			continue
		}
		if ok {
			out[k] = v
		}
	}
	if len(errs) > 0 {
		c.logger.ErrorContext(ctx, "get all failed", "keys", len(keys), "failed", len(errs))
	}
	return out, errors.Join(errs...)
}

// Put stores v under k, overwriting any previous value in place.
func (c *Cache[K, V]) Put(ctx context.Context, k K, v V) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordPut(time.Since(start), err)
	}()

	if c.closed.Load() {
		return ErrClosed
	}

	data, err := c.codec.Encode(v)
	if err != nil {
		return translateError("put", k, err)
	}

	err = c.put(ctx, k, data)
	c.logger.LogPut(ctx, k, len(data), err)
	return translateError("put", k, err)
}

func (c *Cache[K, V]) put(ctx context.Context, k K, data []byte) error {
	mu := c.lock(k)
	mu.Lock()
	defer mu.Unlock()

	for {
		if ref, ok := c.idx.Get(k); ok {
			err := c.store.Update(ctx, k, data, ref)
			if errors.Is(err, storage.ErrRefFreed) {
				c.dropFreed(k, ref)
				continue
			}
			if err != nil {
				return err
			}

			// Re-put so the entry counts as rewritten; this revives an entry
			// waiting for deferred removal.
			old, existed := c.idx.Put(k, ref)
			if existed && old != ref {
				_ = c.store.Remove(k, old)
			}
			if !existed || ref.Freed() {
				// Evicted between the update and the put. The eviction frees
				// ref, possibly after this put returns.
				c.dropFreed(k, ref)
				continue
			}
			return nil
		}

		ref, err := c.store.Create(ctx, k, data)
		if err != nil {
			return err
		}
		if _, loaded := c.idx.PutIfAbsent(k, ref); loaded {
			_ = c.store.Remove(k, ref)
			continue
		}
		return nil
	}
}

// dropFreed removes k if the index still maps it to the evicted ref.
func (c *Cache[K, V]) dropFreed(k K, ref *storage.Ref) {
	if cur, ok := c.idx.Get(k); ok && cur == ref {
		c.idx.Remove(k)
	}
}

// PutIfAbsent stores v only if k is absent. It reports whether v was stored.
func (c *Cache[K, V]) PutIfAbsent(ctx context.Context, k K, v V) (stored bool, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordPut(time.Since(start), err)
	}()

	if c.closed.Load() {
		return false, ErrClosed
	}

	mu := c.lock(k)
	mu.Lock()
	defer mu.Unlock()

	if c.idx.ContainsKey(k) {
		return false, nil
	}

	data, err := c.codec.Encode(v)
	if err != nil {
		return false, translateError("put", k, err)
	}
	ref, err := c.store.Create(ctx, k, data)
	if err != nil {
		c.logger.LogPut(ctx, k, len(data), err)
		return false, translateError("put", k, err)
	}
	if _, loaded := c.idx.PutIfAbsent(k, ref); loaded {
		_ = c.store.Remove(k, ref)
		return false, nil
	}
	c.logger.LogPut(ctx, k, len(data), nil)
	return true, nil
}

// PutAll stores every entry. Keys that could not be stored for lack of free
// blocks are reported together in a *NoFreeBlockError.
func (c *Cache[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var (
		failed []any
		errs   []error
	)
	for k, v := range entries {
		err := c.Put(ctx, k, v)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFreeBlock):
			failed = append(failed, k)
		default:
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		errs = append(errs, &NoFreeBlockError{Keys: failed})
	}
	c.logger.LogBatchPut(ctx, len(entries), len(failed)+len(errs))
	return errors.Join(errs...)
}

// Remove deletes k and returns the value it held.
func (c *Cache[K, V]) Remove(ctx context.Context, k K) (v V, found bool, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRemove(time.Since(start), err)
	}()

	if c.closed.Load() {
		return v, false, ErrClosed
	}

	mu := c.lock(k)
	mu.Lock()
	defer mu.Unlock()

	ref, ok := c.idx.Get(k)
	if !ok {
		return v, false, nil
	}
	v, found, err = c.decode(ref)
	c.idx.Remove(k)
	c.logger.LogRemove(ctx, k, err)
	if err != nil {
		return v, false, translateError("remove", k, err)
	}
	return v, found, nil
}

// Delete deletes k without decoding its value. It reports whether k was
// present.
func (c *Cache[K, V]) Delete(ctx context.Context, k K) (found bool, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRemove(time.Since(start), err)
	}()

	if c.closed.Load() {
		return false, ErrClosed
	}

	mu := c.lock(k)
	mu.Lock()
	defer mu.Unlock()

	_, found = c.idx.Remove(k)
	c.logger.LogRemove(ctx, k, nil)
	return found, nil
}

// RemoveAll deletes every present key and returns their values.
func (c *Cache[K, V]) RemoveAll(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	var errs []error
	for _, k := range keys {
		v, ok, err := c.Remove(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			out[k] = v
		}
	}
	return out, errors.Join(errs...)
}

// Contains reports whether k is present.
func (c *Cache[K, V]) Contains(_ context.Context, k K) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	return c.idx.ContainsKey(k), nil
}

// Entries iterates over the decoded entries in index order. Entries that
// cannot be decoded or were evicted mid-iteration are skipped.
func (c *Cache[K, V]) Entries() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for k, ref := range c.idx.Entries() {
			v, ok, err := c.decode(ref)
			if err != nil || !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Clear removes every entry and frees its blocks.
func (c *Cache[K, V]) Clear(_ context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.idx.Clear()
	return nil
}

// Size returns the number of entries, including entries waiting for
// deferred removal.
func (c *Cache[K, V]) Size() int { return c.idx.Size() }

// MaxSize returns the index capacity, or index.Unlimited.
func (c *Cache[K, V]) MaxSize() int { return c.idx.MaxSize() }

// SetMaxSize changes the capacity of a resizable index.
func (c *Cache[K, V]) SetMaxSize(n int) error {
	r, ok := c.idx.(index.Resizable)
	if !ok {
		return fmt.Errorf("blockcache: %T cannot be resized", c.idx)
	}
	return r.SetMaxSize(n)
}

// Index returns the underlying index.
func (c *Cache[K, V]) Index() index.Index[K, *storage.Ref] { return c.idx }

// Store returns the underlying block store.
func (c *Cache[K, V]) Store() *storage.Store[K] { return c.store }

// Codec returns the value codec.
func (c *Cache[K, V]) Codec() codec.Codec[V] { return c.codec }

// Close clears the index and closes the store. It is idempotent.
// In-flight operations must have finished.
func (c *Cache[K, V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.idx.Clear()
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("blockcache: close store: %w", err)
	}
	return nil
}
