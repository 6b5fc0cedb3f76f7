package index

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// Unlimited is the MaxSize of an index that never evicts.
const Unlimited = -1

// ErrInvalidCapacity is returned when a bounded index is given a capacity
// below one.
var ErrInvalidCapacity = errors.New("index: capacity must be positive")

// Index maps keys to values and decides which entries to discard.
type Index[K comparable, V any] interface {
	// Get returns the value of k. Under LRU it counts as an access.
	Get(k K) (V, bool)
	// GetAll returns the values of every present key.
	GetAll(keys []K) map[K]V
	// Put stores v and returns the previous value, if any.
	Put(k K, v V) (V, bool)
	// PutIfAbsent stores v only if k is absent. It returns the existing
	// value and true if k was present.
	PutIfAbsent(k K, v V) (V, bool)
	// Remove deletes k and emits OnRemove.
	Remove(k K) (V, bool)
	// RemoveAll deletes every present key and returns the removed values.
	RemoveAll(keys []K) map[K]V
	// ContainsKey reports whether k is present.
	ContainsKey(k K) bool
	// Entries iterates over all entries. Under LRU and FIFO the oldest
	// entry comes first.
	Entries() iter.Seq2[K, V]
	// Clear removes every entry, emitting OnRemove for each.
	Clear()
	// Size returns the number of entries.
	Size() int
	// MaxSize returns the capacity, or Unlimited.
	MaxSize() int
	// AddListener registers l for future events.
	AddListener(l Listener[K, V])
}

// Deferrable is implemented by indexes that honor a discard veto.
type Deferrable[K comparable, V any] interface {
	Index[K, V]
	// RemoveDeferred removes k only if it is still flagged ready-to-remove.
	// No OnRemove is emitted.
	RemoveDeferred(k K) (V, bool)
}

// Resizable is implemented by indexes whose capacity can change.
type Resizable interface {
	// SetMaxSize changes the capacity and evicts down to it.
	SetMaxSize(n int) error
}

// Listener observes index events. Callbacks run without index locks held,
// except on the single-threaded bounded index, which has none.
type Listener[K comparable, V any] interface {
	OnPut(k K, v V)
	OnRemove(k K, v V)
	// OnDiscard is offered an entry the index wants to evict. Returning
	// false asks the index to defer the removal.
	OnDiscard(idx Index[K, V], k K, v V) bool
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are no-ops;
// a nil Discard allows the removal.
type ListenerFuncs[K comparable, V any] struct {
	Put     func(k K, v V)
	Remove  func(k K, v V)
	Discard func(idx Index[K, V], k K, v V) bool
}

// OnPut implements Listener.
func (f ListenerFuncs[K, V]) OnPut(k K, v V) {
	if f.Put != nil {
		f.Put(k, v)
	}
}

// OnRemove implements Listener.
func (f ListenerFuncs[K, V]) OnRemove(k K, v V) {
	if f.Remove != nil {
		f.Remove(k, v)
	}
}

// OnDiscard implements Listener.
func (f ListenerFuncs[K, V]) OnDiscard(idx Index[K, V], k K, v V) bool {
	if f.Discard == nil {
		return true
	}
	return f.Discard(idx, k, v)
}

// listeners is a copy-on-write listener chain.
type listeners[K comparable, V any] struct {
	mu   sync.Mutex
	list atomic.Pointer[[]Listener[K, V]]
}

func (ls *listeners[K, V]) add(l Listener[K, V]) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var next []Listener[K, V]
	if cur := ls.list.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	ls.list.Store(&next)
}

func (ls *listeners[K, V]) load() []Listener[K, V] {
	if cur := ls.list.Load(); cur != nil {
		return *cur
	}
	return nil
}

func (ls *listeners[K, V]) put(k K, v V) {
	for _, l := range ls.load() {
		l.OnPut(k, v)
	}
}

func (ls *listeners[K, V]) remove(k K, v V) {
	for _, l := range ls.load() {
		l.OnRemove(k, v)
	}
}

// discard asks every listener; all of them are asked even after a veto.
func (ls *listeners[K, V]) discard(idx Index[K, V], k K, v V) bool {
	ok := true
	for _, l := range ls.load() {
		if !l.OnDiscard(idx, k, v) {
			ok = false
		}
	}
	return ok
}

// Kind selects an index implementation.
type Kind uint8

const (
	// KindUnbounded never evicts.
	KindUnbounded Kind = iota
	// KindLRU evicts the least recently used entry.
	KindLRU
	// KindFIFO evicts the oldest inserted entry.
	KindFIFO
)

func (k Kind) String() string {
	switch k {
	case KindUnbounded:
		return "unbounded"
	case KindLRU:
		return "lru"
	case KindFIFO:
		return "fifo"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Config selects and sizes an index.
type Config struct {
	Kind Kind
	// Capacity is the maximum number of live entries of LRU and FIFO indexes.
	Capacity int
	// SingleThreaded selects the unsynchronized bounded implementation.
	SingleThreaded bool
	// Segments is the lock striping of the concurrent bounded index.
	Segments int
}

// New creates the index described by cfg.
func New[K comparable, V any](cfg Config) (Index[K, V], error) {
	switch cfg.Kind {
	case KindUnbounded:
		return NewUnbounded[K, V](), nil
	case KindLRU, KindFIFO:
		order := LRU
		if cfg.Kind == KindFIFO {
			order = FIFO
		}
		if cfg.SingleThreaded {
			return NewBounded[K, V](order, cfg.Capacity)
		}
		return NewConcurrent[K, V](order, cfg.Capacity, cfg.Segments)
	default:
		return nil, fmt.Errorf("index: unknown kind %s", cfg.Kind)
	}
}
