package blobtier

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockcache"
	"github.com/hupe1980/blockcache/blobstore"
	"github.com/hupe1980/blockcache/codec"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func stores(t *testing.T) map[string]blobstore.Store {
	return map[string]blobstore.Store{
		"memory": blobstore.NewMemoryStore(),
		"local":  blobstore.NewLocalStore(t.TempDir()),
	}
}

func TestTierLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tier := New[string, item](store, nil, WithPrefix[string]("items/"))

			require.NoError(t, tier.Put(ctx, "a/b", item{ID: 1, Name: "one"}))
			require.NoError(t, tier.Put(ctx, "c", item{ID: 2, Name: "two"}))

			v, ok, err := tier.Get(ctx, "a/b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, item{ID: 1, Name: "one"}, v)
			assert.Equal(t, 2, tier.Size())

			_, ok, err = tier.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			found, err := tier.Delete(ctx, "c")
			require.NoError(t, err)
			assert.True(t, found)
			found, err = tier.Delete(ctx, "c")
			require.NoError(t, err)
			assert.False(t, found)

			ok, err = tier.Contains(ctx, "a/b")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, tier.Clear(ctx))
			assert.Equal(t, 0, tier.Size())
		})
	}
}

func TestTierPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New[int, string](store, codec.String{}, WithPrefix[int]("a/"))
	b := New[int, string](store, codec.String{}, WithPrefix[int]("b/"))

	require.NoError(t, a.Put(ctx, 1, "x"))
	require.NoError(t, b.Put(ctx, 1, "y"))
	require.NoError(t, b.Put(ctx, 2, "z"))

	assert.Equal(t, 1, a.Size())
	assert.Equal(t, 2, b.Size())

	require.NoError(t, b.Clear(ctx))
	assert.Equal(t, 1, a.Size())
	assert.Equal(t, 0, b.Size())
}

func TestTierDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tier := New[string, string](store, codec.String{})

	require.NoError(t, tier.Put(ctx, "k", "payload"))

	blob, err := store.Get(ctx, "k")
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, store.Put(ctx, "k", blob))

	_, ok, err := tier.Get(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, codec.ErrInvalidEncoding)
	assert.ErrorIs(t, err, blockcache.ErrInvalidEncoding)

	require.NoError(t, store.Put(ctx, "k", []byte{1, 2}))
	_, _, err = tier.Get(ctx, "k")
	assert.ErrorIs(t, err, codec.ErrInvalidEncoding)
}

func TestTierNamer(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tier := New[int, string](store, codec.String{},
		WithPrefix[int]("p/"),
		WithNamer[int](func(k int) string { return fmt.Sprintf("%04d.blob", k) }),
	)

	require.NoError(t, tier.Put(ctx, 7, "seven"))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/0007.blob"}, names)
}

func TestTierAsCompoundSubTier(t *testing.T) {
	ctx := context.Background()

	hot := blockcache.NewBuilder[string, item]().
		Size(16 << 10).
		BlockSize(64).
		LRU(2).
		MustBuild()
	defer hot.Close()

	cold := New[string, item](blobstore.NewLocalStore(t.TempDir()), nil)

	cc, err := blockcache.NewCompound[string, item](hot, cold,
		blockcache.WithBackgroundDemotion(8),
		blockcache.WithPromoteOnGet(),
	)
	require.NoError(t, err)
	defer func() { _ = cc.Close(ctx) }()

	for i := range 5 {
		require.NoError(t, cc.Put(ctx, fmt.Sprint(i), item{ID: i}))
	}
	require.NoError(t, cc.Flush(ctx))

	assert.Equal(t, 2, hot.Size())
	assert.Equal(t, 3, cold.Size())

	v, ok, err := cc.Get(ctx, "0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, item{ID: 0}, v)

	require.NoError(t, cc.Flush(ctx))
	ok, err = cold.Contains(ctx, "0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, cc.Size())
}
