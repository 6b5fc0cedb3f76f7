package index

import (
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/hupe1980/blockcache/internal/evictmap"
)

// Concurrent is a bounded LRU or FIFO index safe for concurrent use. It
// honors discard vetoes and its capacity can change at runtime.
type Concurrent[K comparable, V any] struct {
	m        *evictmap.Map[K, V]
	capacity atomic.Int64
	ls       listeners[K, V]
}

// NewConcurrent creates a concurrent index holding at most capacity live
// entries, striped over segments locks (evictmap.DefaultSegments if <= 0).
func NewConcurrent[K comparable, V any](order Order, capacity, segments int) (*Concurrent[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	c := &Concurrent[K, V]{}
	c.capacity.Store(int64(capacity))

	mo := evictmap.AccessOrder
	if order == FIFO {
		mo = evictmap.InsertionOrder
	}
	c.m = evictmap.New(evictmap.Config[K, V]{
		Segments: segments,
		Order:    mo,
		Decide:   c.decide,
		Evicted:  c.ls.remove,
	})
	return c, nil
}

func (c *Concurrent[K, V]) decide(k K, v V, live int) evictmap.Decision {
	if int64(live) <= c.capacity.Load() {
		return evictmap.DoNothing
	}
	if c.ls.discard(c, k, v) {
		return evictmap.Remove
	}
	return evictmap.ReadyToRemove
}

func (c *Concurrent[K, V]) Get(k K) (V, bool) { return c.m.Get(k) }

func (c *Concurrent[K, V]) GetAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := c.m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func (c *Concurrent[K, V]) Put(k K, v V) (V, bool) {
	old, existed := c.m.Put(k, v)
	c.ls.put(k, v)
	return old, existed
}

func (c *Concurrent[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	existing, loaded := c.m.PutIfAbsent(k, v)
	if !loaded {
		c.ls.put(k, v)
	}
	return existing, loaded
}

func (c *Concurrent[K, V]) Remove(k K) (V, bool) {
	v, ok := c.m.Remove(k)
	if ok {
		c.ls.remove(k, v)
	}
	return v, ok
}

func (c *Concurrent[K, V]) RemoveAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := c.Remove(k); ok {
			out[k] = v
		}
	}
	return out
}

// RemoveDeferred removes k only while it is still flagged ready-to-remove.
func (c *Concurrent[K, V]) RemoveDeferred(k K) (V, bool) {
	return c.m.RemoveReady(k)
}

// IsDeferred reports whether k is waiting for RemoveDeferred.
func (c *Concurrent[K, V]) IsDeferred(k K) bool { return c.m.IsReady(k) }

func (c *Concurrent[K, V]) ContainsKey(k K) bool { return c.m.Contains(k) }

// Entries iterates in eviction order, oldest first, over the entries present
// when each is reached.
func (c *Concurrent[K, V]) Entries() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.m.Range(yield)
	}
}

func (c *Concurrent[K, V]) Clear() { c.m.Clear(c.ls.remove) }

// Size returns the number of entries, deferred ones included.
func (c *Concurrent[K, V]) Size() int { return c.m.Len() }

// Live returns the number of entries not waiting for deferred removal.
func (c *Concurrent[K, V]) Live() int { return c.m.Live() }

func (c *Concurrent[K, V]) MaxSize() int { return int(c.capacity.Load()) }

// SetMaxSize changes the capacity and evicts down to it.
func (c *Concurrent[K, V]) SetMaxSize(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	c.capacity.Store(int64(n))
	c.m.Evaluate()
	return nil
}

func (c *Concurrent[K, V]) AddListener(l Listener[K, V]) { c.ls.add(l) }

var (
	_ Deferrable[string, int] = (*Concurrent[string, int])(nil)
	_ Resizable               = (*Concurrent[string, int])(nil)
	_ Resizable               = (*Bounded[string, int])(nil)
	_ Index[string, int]      = (*Bounded[string, int])(nil)
	_ Index[string, int]      = (*Unbounded[string, int])(nil)
)
