package index

import (
	"container/list"
	"fmt"
	"iter"
)

// Order selects the eviction order of a bounded index.
type Order uint8

const (
	// LRU evicts the least recently used entry.
	LRU Order = iota
	// FIFO evicts the oldest inserted entry.
	FIFO
)

func (o Order) String() string {
	if o == FIFO {
		return "fifo"
	}
	return "lru"
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Bounded is a fixed-capacity LRU or FIFO index for use by one goroutine at
// a time. It has no internal locking and never defers a discard.
type Bounded[K comparable, V any] struct {
	order    Order
	capacity int
	items    map[K]*list.Element
	ll       *list.List
	ls       listeners[K, V]
}

// NewBounded creates a bounded index holding at most capacity entries.
func NewBounded[K comparable, V any](order Order, capacity int) (*Bounded[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Bounded[K, V]{
		order:    order,
		capacity: capacity,
		items:    make(map[K]*list.Element),
		ll:       list.New(),
	}, nil
}

func (b *Bounded[K, V]) Get(k K) (V, bool) {
	el, ok := b.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	if b.order == LRU {
		b.ll.MoveToFront(el)
	}
	return el.Value.(*entry[K, V]).value, true
}

func (b *Bounded[K, V]) GetAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := b.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func (b *Bounded[K, V]) Put(k K, v V) (V, bool) {
	if el, ok := b.items[k]; ok {
		ent := el.Value.(*entry[K, V])
		old := ent.value
		ent.value = v
		if b.order == LRU {
			b.ll.MoveToFront(el)
		}
		b.ls.put(k, v)
		return old, true
	}

	b.insert(k, v)
	var zero V
	return zero, false
}

func (b *Bounded[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	if existing, ok := b.Get(k); ok {
		return existing, true
	}
	b.insert(k, v)
	var zero V
	return zero, false
}

func (b *Bounded[K, V]) insert(k K, v V) {
	b.items[k] = b.ll.PushFront(&entry[K, V]{key: k, value: v})
	b.ls.put(k, v)

	if b.ll.Len() > b.capacity {
		b.discardOldest()
	}
}

// discardOldest offers the oldest entry to the listeners and removes it
// whatever they answer.
func (b *Bounded[K, V]) discardOldest() {
	el := b.ll.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry[K, V])
	_ = b.ls.discard(b, ent.key, ent.value)

	// A listener may have removed the entry itself.
	if cur, ok := b.items[ent.key]; ok && cur == el {
		b.removeElement(el)
	}
}

func (b *Bounded[K, V]) removeElement(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	b.ll.Remove(el)
	delete(b.items, ent.key)
	b.ls.remove(ent.key, ent.value)
}

func (b *Bounded[K, V]) Remove(k K) (V, bool) {
	el, ok := b.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	v := el.Value.(*entry[K, V]).value
	b.removeElement(el)
	return v, true
}

func (b *Bounded[K, V]) RemoveAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := b.Remove(k); ok {
			out[k] = v
		}
	}
	return out
}

func (b *Bounded[K, V]) ContainsKey(k K) bool {
	_, ok := b.items[k]
	return ok
}

// Entries iterates from the oldest entry to the newest. The index must not
// be modified during iteration.
func (b *Bounded[K, V]) Entries() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for el := b.ll.Back(); el != nil; el = el.Prev() {
			ent := el.Value.(*entry[K, V])
			if !yield(ent.key, ent.value) {
				return
			}
		}
	}
}

func (b *Bounded[K, V]) Clear() {
	old := b.ll
	b.items = make(map[K]*list.Element)
	b.ll = list.New()
	for el := old.Back(); el != nil; el = el.Prev() {
		ent := el.Value.(*entry[K, V])
		b.ls.remove(ent.key, ent.value)
	}
}

func (b *Bounded[K, V]) Size() int { return b.ll.Len() }

func (b *Bounded[K, V]) MaxSize() int { return b.capacity }

// SetMaxSize changes the capacity and discards entries down to it.
func (b *Bounded[K, V]) SetMaxSize(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	b.capacity = n
	for b.ll.Len() > b.capacity {
		b.discardOldest()
	}
	return nil
}

func (b *Bounded[K, V]) AddListener(l Listener[K, V]) { b.ls.add(l) }
