package evictmap

import (
	"hash/maphash"
	"sync"
)

// Order selects how the chain is maintained.
type Order uint8

const (
	// AccessOrder moves an entry to the tail on every read or write (LRU).
	AccessOrder Order = iota
	// InsertionOrder keeps entries in first-insertion order (FIFO).
	InsertionOrder
)

func (o Order) String() string {
	if o == InsertionOrder {
		return "fifo"
	}
	return "lru"
}

// Decision is the outcome of evaluating an eviction candidate.
type Decision uint8

const (
	// DoNothing keeps the candidate.
	DoNothing Decision = iota
	// Remove evicts the candidate immediately.
	Remove
	// ReadyToRemove flags the candidate for deferred removal.
	ReadyToRemove
)

// DefaultSegments is used when Config.Segments is not positive.
const DefaultSegments = 16

const nilHandle int32 = -1

// Config configures a Map.
type Config[K comparable, V any] struct {
	Segments int
	Order    Order
	// Decide is consulted for the oldest live entry after every put. live is
	// the number of entries not flagged ready. A nil Decide never evicts.
	Decide func(k K, v V, live int) Decision
	// Evicted is called after Decide returned Remove and the entry was removed.
	Evicted func(k K, v V)
}

type node[K comparable] struct {
	key        K
	prev, next int32
	gen        uint32
	ready      bool
}

type slot[V any] struct {
	h int32
	v V
}

type segment[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]slot[V]
}

// Map is a concurrent map with a global eviction order.
type Map[K comparable, V any] struct {
	seed    maphash.Seed
	segs    []segment[K, V]
	order   Order
	decide  func(K, V, int) Decision
	evicted func(K, V)

	omu        sync.Mutex
	nodes      []node[K]
	free       []int32
	head, tail int32
	size       int
	ready      int
}

// New creates an empty map.
func New[K comparable, V any](cfg Config[K, V]) *Map[K, V] {
	n := cfg.Segments
	if n <= 0 {
		n = DefaultSegments
	}
	m := &Map[K, V]{
		seed:    maphash.MakeSeed(),
		segs:    make([]segment[K, V], n),
		order:   cfg.Order,
		decide:  cfg.Decide,
		evicted: cfg.Evicted,
		head:    nilHandle,
		tail:    nilHandle,
	}
	for i := range m.segs {
		m.segs[i].m = make(map[K]slot[V])
	}
	return m
}

// Order returns the chain order.
func (m *Map[K, V]) Order() Order { return m.order }

func (m *Map[K, V]) segment(k K) *segment[K, V] {
	return &m.segs[maphash.Comparable(m.seed, k)%uint64(len(m.segs))]
}

// Get returns the value of k, moving it to the tail under AccessOrder.
func (m *Map[K, V]) Get(k K) (V, bool) {
	seg := m.segment(k)
	seg.mu.RLock()
	defer seg.mu.RUnlock()

	s, ok := seg.m[k]
	if ok && m.order == AccessOrder {
		m.omu.Lock()
		m.moveToTail(s.h)
		m.omu.Unlock()
	}
	return s.v, ok
}

// Peek returns the value of k without touching the order.
func (m *Map[K, V]) Peek(k K) (V, bool) {
	seg := m.segment(k)
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	s, ok := seg.m[k]
	return s.v, ok
}

// Contains reports whether k is present.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.Peek(k)
	return ok
}

// Put stores v under k and returns the previous value. Replacing a ready
// entry revives it.
func (m *Map[K, V]) Put(k K, v V) (V, bool) {
	old, existed := m.put(k, v, false)
	m.evaluate()
	return old, existed
}

// PutIfAbsent stores v only if k is absent. It returns the existing value
// and true if k was present.
func (m *Map[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	existing, loaded := m.put(k, v, true)
	if !loaded {
		m.evaluate()
	}
	return existing, loaded
}

func (m *Map[K, V]) put(k K, v V, onlyIfAbsent bool) (V, bool) {
	seg := m.segment(k)
	seg.mu.Lock()
	defer seg.mu.Unlock()

	if s, ok := seg.m[k]; ok {
		if !onlyIfAbsent {
			seg.m[k] = slot[V]{h: s.h, v: v}
		}
		m.omu.Lock()
		n := &m.nodes[s.h]
		if !onlyIfAbsent && n.ready {
			n.ready = false
			m.ready--
		}
		if m.order == AccessOrder {
			m.moveToTail(s.h)
		}
		m.omu.Unlock()
		return s.v, true
	}

	m.omu.Lock()
	h := m.alloc(k)
	m.linkTail(h)
	m.size++
	m.omu.Unlock()

	seg.m[k] = slot[V]{h: h, v: v}
	var zero V
	return zero, false
}

// Remove deletes k and returns its value.
func (m *Map[K, V]) Remove(k K) (V, bool) {
	return m.remove(k, false)
}

// RemoveReady deletes k only if it is still flagged ready.
func (m *Map[K, V]) RemoveReady(k K) (V, bool) {
	return m.remove(k, true)
}

func (m *Map[K, V]) remove(k K, onlyReady bool) (V, bool) {
	seg := m.segment(k)
	seg.mu.Lock()
	defer seg.mu.Unlock()

	var zero V
	s, ok := seg.m[k]
	if !ok {
		return zero, false
	}

	m.omu.Lock()
	if onlyReady && !m.nodes[s.h].ready {
		m.omu.Unlock()
		return zero, false
	}
	m.release(s.h)
	m.omu.Unlock()

	delete(seg.m, k)
	return s.v, true
}

// IsReady reports whether k is present and flagged ready.
func (m *Map[K, V]) IsReady(k K) bool {
	seg := m.segment(k)
	seg.mu.RLock()
	defer seg.mu.RUnlock()

	s, ok := seg.m[k]
	if !ok {
		return false
	}
	m.omu.Lock()
	defer m.omu.Unlock()
	return m.nodes[s.h].ready
}

// Len returns the number of entries, ready ones included.
func (m *Map[K, V]) Len() int {
	m.omu.Lock()
	defer m.omu.Unlock()
	return m.size
}

// Live returns the number of entries not flagged ready.
func (m *Map[K, V]) Live() int {
	m.omu.Lock()
	defer m.omu.Unlock()
	return m.size - m.ready
}

// Range calls fn for every entry in chain order, oldest first, until fn
// returns false. Entries removed concurrently are skipped.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {
	m.omu.Lock()
	keys := make([]K, 0, m.size)
	for h := m.head; h != nilHandle; h = m.nodes[h].next {
		keys = append(keys, m.nodes[h].key)
	}
	m.omu.Unlock()

	for _, k := range keys {
		v, ok := m.Peek(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// Clear removes every entry and calls fn, if not nil, for each of them after
// all locks are released.
func (m *Map[K, V]) Clear(fn func(k K, v V)) {
	for i := range m.segs {
		m.segs[i].mu.Lock()
	}
	m.omu.Lock()

	var removed []slot[V]
	var keys []K
	if fn != nil {
		removed = make([]slot[V], 0, m.size)
		keys = make([]K, 0, m.size)
	}
	for i := range m.segs {
		seg := &m.segs[i]
		if fn != nil {
			for k, s := range seg.m {
				keys = append(keys, k)
				removed = append(removed, s)
			}
		}
		seg.m = make(map[K]slot[V])
	}
	for h := m.head; h != nilHandle; {
		n := &m.nodes[h]
		next := n.next
		var zero K
		n.key = zero
		n.prev, n.next = nilHandle, nilHandle
		n.ready = false
		m.free = append(m.free, h)
		h = next
	}
	m.head, m.tail = nilHandle, nilHandle
	m.size, m.ready = 0, 0

	m.omu.Unlock()
	for i := range m.segs {
		m.segs[i].mu.Unlock()
	}

	for i, k := range keys {
		fn(k, removed[i].v)
	}
}

// Evaluate runs the eviction decision repeatedly until it keeps the oldest
// live entry. Use it after the capacity behind Decide shrinks.
func (m *Map[K, V]) Evaluate() {
	for m.evaluate() {
	}
}

// evaluate runs one decision on the oldest live entry and reports whether
// the entry was removed or flagged. A candidate lost to a concurrent change
// is replaced by the next oldest one.
func (m *Map[K, V]) evaluate() bool {
	if m.decide == nil {
		return false
	}

	for {
		m.omu.Lock()
		h := m.head
		for h != nilHandle && m.nodes[h].ready {
			h = m.nodes[h].next
		}
		if h == nilHandle {
			m.omu.Unlock()
			return false
		}
		k, gen := m.nodes[h].key, m.nodes[h].gen
		live := m.size - m.ready
		m.omu.Unlock()

		v, ok := m.Peek(k)
		if !ok {
			continue
		}

		switch m.decide(k, v, live) {
		case Remove:
			cur, removed := m.removeIf(k, h, gen, false)
			if !removed {
				continue
			}
			if m.evicted != nil {
				m.evicted(k, cur)
			}
			return true
		case ReadyToRemove:
			if _, flagged := m.removeIf(k, h, gen, true); !flagged {
				continue
			}
			return true
		default:
			return false
		}
	}
}

// removeIf removes, or flags when flag is set, the entry of k if it is
// still the node identified by h and gen.
func (m *Map[K, V]) removeIf(k K, h int32, gen uint32, flag bool) (V, bool) {
	seg := m.segment(k)
	seg.mu.Lock()
	defer seg.mu.Unlock()

	var zero V
	s, ok := seg.m[k]
	if !ok || s.h != h {
		return zero, false
	}

	m.omu.Lock()
	defer m.omu.Unlock()

	n := &m.nodes[h]
	if n.gen != gen || n.ready {
		return zero, false
	}
	if flag {
		n.ready = true
		m.ready++
		return s.v, true
	}
	m.release(h)
	delete(seg.m, k)
	return s.v, true
}

func (m *Map[K, V]) alloc(k K) int32 {
	var h int32
	if n := len(m.free); n > 0 {
		h = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.nodes = append(m.nodes, node[K]{})
		h = int32(len(m.nodes) - 1)
	}
	n := &m.nodes[h]
	n.key = k
	n.prev, n.next = nilHandle, nilHandle
	n.gen++
	n.ready = false
	return h
}

// release unlinks h and returns it to the free stack. Callers hold omu.
func (m *Map[K, V]) release(h int32) {
	n := &m.nodes[h]
	if n.ready {
		m.ready--
	}
	m.unlink(h)
	var zero K
	n.key = zero
	n.ready = false
	m.free = append(m.free, h)
	m.size--
}

func (m *Map[K, V]) linkTail(h int32) {
	n := &m.nodes[h]
	n.prev, n.next = m.tail, nilHandle
	if m.tail != nilHandle {
		m.nodes[m.tail].next = h
	} else {
		m.head = h
	}
	m.tail = h
}

func (m *Map[K, V]) unlink(h int32) {
	n := &m.nodes[h]
	if n.prev != nilHandle {
		m.nodes[n.prev].next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nilHandle {
		m.nodes[n.next].prev = n.prev
	} else {
		m.tail = n.prev
	}
	n.prev, n.next = nilHandle, nilHandle
}

func (m *Map[K, V]) moveToTail(h int32) {
	if m.tail == h {
		return
	}
	m.unlink(h)
	m.linkTail(h)
}
