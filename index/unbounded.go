package index

import (
	"iter"
	"sync"
)

// Unbounded is an index without eviction.
type Unbounded[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
	ls listeners[K, V]
}

// NewUnbounded creates an empty unbounded index.
func NewUnbounded[K comparable, V any]() *Unbounded[K, V] {
	return &Unbounded[K, V]{m: make(map[K]V)}
}

func (u *Unbounded[K, V]) Get(k K) (V, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	v, ok := u.m[k]
	return v, ok
}

func (u *Unbounded[K, V]) GetAll(keys []K) map[K]V {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := u.m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (u *Unbounded[K, V]) Put(k K, v V) (V, bool) {
	u.mu.Lock()
	old, existed := u.m[k]
	u.m[k] = v
	u.mu.Unlock()

	u.ls.put(k, v)
	return old, existed
}

func (u *Unbounded[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	u.mu.Lock()
	if existing, ok := u.m[k]; ok {
		u.mu.Unlock()
		return existing, true
	}
	u.m[k] = v
	u.mu.Unlock()

	u.ls.put(k, v)
	var zero V
	return zero, false
}

func (u *Unbounded[K, V]) Remove(k K) (V, bool) {
	u.mu.Lock()
	v, ok := u.m[k]
	delete(u.m, k)
	u.mu.Unlock()

	if ok {
		u.ls.remove(k, v)
	}
	return v, ok
}

func (u *Unbounded[K, V]) RemoveAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := u.Remove(k); ok {
			out[k] = v
		}
	}
	return out
}

func (u *Unbounded[K, V]) ContainsKey(k K) bool {
	_, ok := u.Get(k)
	return ok
}

// Entries iterates over a snapshot of the index in no particular order.
func (u *Unbounded[K, V]) Entries() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		u.mu.RLock()
		snap := make(map[K]V, len(u.m))
		for k, v := range u.m {
			snap[k] = v
		}
		u.mu.RUnlock()

		for k, v := range snap {
			if !yield(k, v) {
				return
			}
		}
	}
}

func (u *Unbounded[K, V]) Clear() {
	u.mu.Lock()
	old := u.m
	u.m = make(map[K]V)
	u.mu.Unlock()

	for k, v := range old {
		u.ls.remove(k, v)
	}
}

func (u *Unbounded[K, V]) Size() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.m)
}

func (u *Unbounded[K, V]) MaxSize() int { return Unlimited }

func (u *Unbounded[K, V]) AddListener(l Listener[K, V]) { u.ls.add(l) }
