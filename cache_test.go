package blockcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/blockcache/codec"
	"github.com/hupe1980/blockcache/index"
	"github.com/hupe1980/blockcache/storage"
)

func newCache[V any](t *testing.T, icfg index.Config, scfg storage.Config, c codec.Codec[V], opts ...Option) *Cache[string, V] {
	t.Helper()
	idx, err := index.New[string, *storage.Ref](icfg)
	require.NoError(t, err)
	store, err := storage.New[string](scfg)
	require.NoError(t, err)
	cache, err := New(idx, store, c, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func smallStore(blocks int) storage.Config {
	return storage.Config{Size: int64(blocks) * 64, BlockSize: 64, Partitions: 1}
}

// usedBytes sums the blocks held by every indexed ref.
func usedBytes[V any](c *Cache[string, V]) int64 {
	var n int64
	for _, ref := range c.Index().Entries() {
		n += int64(ref.Blocks()) * int64(c.Store().BlockSize())
	}
	return n
}

func TestCachePutGet(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t, index.Config{Kind: index.KindUnbounded}, smallStore(16), codec.String{})

	require.NoError(t, c.Put(ctx, "a", "alpha"))

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheOverwriteReusesRef(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t, index.Config{Kind: index.KindUnbounded}, smallStore(16), codec.String{})

	require.NoError(t, c.Put(ctx, "a", "short"))
	ref, ok := c.Index().Get("a")
	require.True(t, ok)

	long := strings.Repeat("x", 64*3+1)
	require.NoError(t, c.Put(ctx, "a", long))

	cur, ok := c.Index().Get("a")
	require.True(t, ok)
	assert.Same(t, ref, cur)
	assert.Equal(t, 4, cur.Blocks())

	v, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, long, v)

	require.NoError(t, c.Put(ctx, "a", "tiny"))
	assert.Equal(t, 1, cur.Blocks())
	assert.Equal(t, c.Store().Capacity()-64, c.Store().Available())
}

func TestCacheRemoveFreesBlocks(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t, index.Config{Kind: index.KindUnbounded}, smallStore(16), codec.String{})

	require.NoError(t, c.Put(ctx, "a", strings.Repeat("a", 200)))
	require.NoError(t, c.Put(ctx, "b", "b"))

	v, ok, err := c.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, v, 200)

	found, err := c.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = c.Delete(ctx, "b")
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 0, c.Size())
	assert.Equal(t, c.Store().Capacity(), c.Store().Available())
}

func TestCacheEvictionFreesBlocks(t *testing.T) {
	for _, single := range []bool{false, true} {
		t.Run(fmt.Sprintf("single=%v", single), func(t *testing.T) {
			ctx := context.Background()
			metrics := &BasicMetricsCollector{}
			c := newCache[string](t,
				index.Config{Kind: index.KindLRU, Capacity: 2, SingleThreaded: single},
				smallStore(16), codec.String{},
				WithMetricsCollector(metrics),
			)

			var evicted []string
			c.AddEvictionListener(EvictionFunc[string](func(k string, _ *storage.Ref) bool {
				evicted = append(evicted, k)
				return true
			}))

			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, c.Put(ctx, k, k))
			}

			assert.Equal(t, []string{"a"}, evicted)
			assert.Equal(t, 2, c.Size())
			ok, err := c.Contains(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, c.Store().Capacity()-2*64, c.Store().Available())
			assert.EqualValues(t, 1, metrics.GetStats().Evictions)
		})
	}
}

func TestCacheSingleThreadedIgnoresVeto(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t,
		index.Config{Kind: index.KindFIFO, Capacity: 1, SingleThreaded: true},
		smallStore(4), codec.String{},
	)
	c.AddEvictionListener(EvictionFunc[string](func(string, *storage.Ref) bool { return false }))

	require.NoError(t, c.Put(ctx, "a", "a"))
	require.NoError(t, c.Put(ctx, "b", "b"))

	assert.Equal(t, 1, c.Size())
	assert.Equal(t, c.Store().Capacity()-64, c.Store().Available())
}

func TestCacheVetoKeepsEntryReadable(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	c := newCache[string](t,
		index.Config{Kind: index.KindFIFO, Capacity: 1},
		smallStore(4), codec.String{},
		WithMetricsCollector(metrics),
	)
	c.AddEvictionListener(EvictionFunc[string](func(string, *storage.Ref) bool { return false }))

	require.NoError(t, c.Put(ctx, "a", "a"))
	require.NoError(t, c.Put(ctx, "b", "b"))

	assert.Equal(t, 2, c.Size())
	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.EqualValues(t, 1, metrics.GetStats().Vetoes)

	d, ok := c.Index().(index.Deferrable[string, *storage.Ref])
	require.True(t, ok)
	ref, ok := d.RemoveDeferred("a")
	require.True(t, ok)
	require.NoError(t, c.Store().Remove("a", ref))
	assert.Equal(t, 1, c.Size())
}

func TestCachePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	c := newCache[int](t, index.Config{Kind: index.KindUnbounded}, smallStore(4), nil)

	stored, err := c.PutIfAbsent(ctx, "a", 1)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = c.PutIfAbsent(ctx, "a", 2)
	require.NoError(t, err)
	assert.False(t, stored)

	v, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, c.Store().Capacity()-64, c.Store().Available())
}

func TestCachePutAllReportsEveryFailedKey(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t, index.Config{Kind: index.KindUnbounded}, smallStore(2), codec.String{})

	big := strings.Repeat("x", 64*3)
	err := c.PutAll(ctx, map[string]string{
		"ok":   "fits",
		"big1": big,
		"big2": big,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFreeBlock)

	var nfb *NoFreeBlockError
	require.ErrorAs(t, err, &nfb)
	assert.ElementsMatch(t, []any{"big1", "big2"}, nfb.Keys)

	v, ok, err := c.Get(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fits", v)
	assert.Equal(t, c.Store().Capacity()-64, c.Store().Available())
}

func TestCacheGetAllAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	c := newCache[int](t, index.Config{Kind: index.KindUnbounded}, smallStore(8), nil)

	require.NoError(t, c.PutAll(ctx, map[string]int{"a": 1, "b": 2, "c": 3}))

	got, err := c.GetAll(ctx, []string{"a", "c", "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "c": 3}, got)

	removed, err := c.RemoveAll(ctx, []string{"a", "b", "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, removed)
	assert.Equal(t, 1, c.Size())
}

func TestCacheEntriesAndClear(t *testing.T) {
	ctx := context.Background()
	c := newCache[int](t, index.Config{Kind: index.KindFIFO, Capacity: 10}, smallStore(8), nil)

	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(ctx, k, i))
	}

	var keys []string
	for k, v := range c.Entries() {
		keys = append(keys, k)
		assert.Equal(t, strings.Index("abc", k), v)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, c.Store().Capacity(), c.Store().Available())
}

func TestCacheInvalidEncoding(t *testing.T) {
	ctx := context.Background()
	c := newCache[map[string]int](t, index.Config{Kind: index.KindUnbounded}, smallStore(4), nil)

	ref, err := c.Store().Create(ctx, "bad", []byte("{"))
	require.NoError(t, err)
	c.Index().Put("bad", ref)

	_, ok, err := c.Get(ctx, "bad")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)
}

func TestCacheSetMaxSize(t *testing.T) {
	ctx := context.Background()
	c := newCache[int](t, index.Config{Kind: index.KindLRU, Capacity: 4}, smallStore(8), nil)

	for i := range 4 {
		require.NoError(t, c.Put(ctx, fmt.Sprint(i), i))
	}
	require.NoError(t, c.SetMaxSize(2))
	assert.Equal(t, 2, c.Size())
	assert.Equal(t, 2, c.MaxSize())
	assert.Equal(t, c.Store().Capacity()-2*64, c.Store().Available())

	u := newCache[int](t, index.Config{Kind: index.KindUnbounded}, smallStore(1), nil)
	assert.Error(t, u.SetMaxSize(1))
}

func TestCacheClosed(t *testing.T) {
	ctx := context.Background()
	c := newCache[int](t, index.Config{Kind: index.KindUnbounded}, smallStore(4), nil)

	require.NoError(t, c.Put(ctx, "a", 1))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Put(ctx, "a", 2), ErrClosed)
	_, _, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Contains(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCacheWaitForFreeBlockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := smallStore(1)
	cfg.Rejection = storage.WaitForFreeBlock
	c := newCache[string](t, index.Config{Kind: index.KindUnbounded}, cfg, codec.String{})

	require.NoError(t, c.Put(ctx, "a", "a"))
	cancel()

	err := c.Put(ctx, "b", "b")
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, c.Size())
}

func TestCacheConcurrentNoBlockLeak(t *testing.T) {
	ctx := context.Background()
	c := newCache[string](t,
		index.Config{Kind: index.KindLRU, Capacity: 32, Segments: 4},
		storage.Config{Size: 64 * 1024, BlockSize: 64, Partitions: 4},
		codec.String{},
	)

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for i := range 500 {
				k := fmt.Sprintf("k%d", (w*31+i)%64)
				switch i % 4 {
				case 0, 1:
					if err := c.Put(ctx, k, strings.Repeat("v", 1+i%150)); err != nil {
						return err
					}
				case 2:
					if _, _, err := c.Get(ctx, k); err != nil {
						return err
					}
				case 3:
					if _, err := c.Delete(ctx, k); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, c.Size(), 32)
	assert.Equal(t, c.Store().Capacity()-usedBytes(c), c.Store().Available())

	for k := range c.Entries() {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

// lateRemovalIndex drops the target key right before it is re-put and
// holds back the removal until deliver is called, as an eviction whose
// listener runs after a concurrent rewrite would.
type lateRemovalIndex struct {
	index.Index[string, *storage.Ref]

	listener index.Listener[string, *storage.Ref]
	mute     bool
	target   string
	pending  *storage.Ref
}

func (x *lateRemovalIndex) AddListener(l index.Listener[string, *storage.Ref]) {
	x.listener = l
	x.Index.AddListener(index.ListenerFuncs[string, *storage.Ref]{
		Put: l.OnPut,
		Remove: func(k string, ref *storage.Ref) {
			if !x.mute {
				l.OnRemove(k, ref)
			}
		},
		Discard: l.OnDiscard,
	})
}

func (x *lateRemovalIndex) Put(k string, ref *storage.Ref) (*storage.Ref, bool) {
	if k == x.target {
		x.target = ""
		x.mute = true
		x.pending, _ = x.Index.Remove(k)
		x.mute = false
	}
	return x.Index.Put(k, ref)
}

func (x *lateRemovalIndex) deliver(k string) {
	x.listener.OnRemove(k, x.pending)
}

func TestCacheRewriteRacingEvictionKeepsLiveRef(t *testing.T) {
	ctx := context.Background()
	inner, err := index.New[string, *storage.Ref](index.Config{Kind: index.KindUnbounded})
	require.NoError(t, err)
	idx := &lateRemovalIndex{Index: inner}
	store, err := storage.New[string](smallStore(8))
	require.NoError(t, err)
	c, err := New[string, string](idx, store, codec.String{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Put(ctx, "k", "v1"))
	idx.target = "k"
	require.NoError(t, c.Put(ctx, "k", "v2"))
	idx.deliver("k")

	ref, ok := idx.Get("k")
	require.True(t, ok)
	assert.False(t, ref.Freed())

	v, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", v)
	assert.Equal(t, usedBytes(c), store.Capacity()-store.Available())
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError("get", "k", nil))

	err := translateError("put", "k", storage.ErrClosed)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, storage.ErrClosed)

	nfb := &storage.NoFreeBlockError{Keys: []any{"k"}}
	assert.Same(t, nfb, translateError("put", "k", nfb))

	err = translateError("remove", 7, errors.New("boom"))
	assert.EqualError(t, err, "blockcache: remove 7: boom")
}
