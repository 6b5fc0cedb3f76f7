package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifs "github.com/hupe1980/blockcache/internal/fs"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			data := []byte("hello world, this is a test blob")
			require.NoError(t, store.Put(ctx, "a/one.bin", data))
			require.NoError(t, store.Put(ctx, "a/two.bin", []byte("2")))
			require.NoError(t, store.Put(ctx, "b.bin", nil))

			got, err := store.Get(ctx, "a/one.bin")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			got, err = store.Get(ctx, "b.bin")
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, store.Put(ctx, "a/one.bin", []byte("replaced")))
			got, err = store.Get(ctx, "a/one.bin")
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(got))

			names, err := store.List(ctx, "a/")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/one.bin", "a/two.bin"}, names)

			names, err = store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/one.bin", "a/two.bin", "b.bin"}, names)

			require.NoError(t, store.Delete(ctx, "a/one.bin"))
			require.NoError(t, store.Delete(ctx, "a/one.bin"))
			_, err = store.Get(ctx, "a/one.bin")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCancelledContext(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			cancel()
			assert.ErrorIs(t, store.Put(ctx, "k", []byte("v")), context.Canceled)
			_, err := store.Get(ctx, "k")
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := NewMemoryStore()
	data := []byte("abc")
	require.NoError(t, store.Put(t.Context(), "k", data))
	data[0] = 'X'

	got, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'Y'

	again, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
	assert.Equal(t, 1, store.Len())
}

func TestLocalStoreFailedWriteKeepsPreviousBlob(t *testing.T) {
	dir := t.TempDir()
	faulty := ifs.NewFaultyFS(nil)
	store := NewLocalStore(dir, withFileSystem(faulty))

	require.NoError(t, store.Put(t.Context(), "k", []byte("stable")))

	faulty.AddRule("", ifs.Fault{FailAfterBytes: 2})
	err := store.Put(t.Context(), "k", []byte("half written"))
	require.ErrorIs(t, err, ifs.ErrInjected)

	got, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "stable", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestLocalStoreRejectsEscapingNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	assert.Error(t, store.Put(t.Context(), "../escape", []byte("x")))
	_, err := store.Get(t.Context(), filepath.Join("..", "x"))
	assert.Error(t, err)
}
