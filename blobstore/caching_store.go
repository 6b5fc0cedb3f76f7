package blobstore

import (
	"bytes"
	"context"

	"golang.org/x/sync/singleflight"
)

// BlobCache is the read cache of a CachingStore.
// A *blockcache.Cache[string, []byte] using codec.Bytes satisfies it.
type BlobCache interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) (bool, error)
}

// CachingStore wraps a Store and serves repeated reads from a BlobCache.
// Concurrent misses for the same blob share one read of the inner store.
type CachingStore struct {
	inner Store
	cache BlobCache
	group singleflight.Group
}

// NewCachingStore creates a new CachingStore.
func NewCachingStore(inner Store, cache BlobCache) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: cache,
	}
}

// Get returns the blob from the cache, or reads it from the inner store and
// caches it. A failing cache never fails the read.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok, err := s.cache.Get(ctx, name); err == nil && ok {
		return data, nil
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		data, err := s.inner.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		_ = s.cache.Put(ctx, name, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// Put writes through to the inner store and drops the cached copy.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	_, _ = s.cache.Delete(ctx, name)
	err := s.inner.Put(ctx, name, data)
	// A read racing the write may have cached the old content.
	_, _ = s.cache.Delete(ctx, name)
	return err
}

// Delete removes the blob from the inner store and the cache.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	_, _ = s.cache.Delete(ctx, name)
	return s.inner.Delete(ctx, name)
}

// List lists the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

var _ Store = (*CachingStore)(nil)
