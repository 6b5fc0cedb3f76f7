package blockcache

import "context"

// Tier is a cache level a CompoundCache can demote into. *Cache and
// *blobtier.Tier implement it.
type Tier[K comparable, V any] interface {
	Get(ctx context.Context, k K) (V, bool, error)
	Put(ctx context.Context, k K, v V) error
	// Delete removes k and reports whether it was present.
	Delete(ctx context.Context, k K) (bool, error)
	Contains(ctx context.Context, k K) (bool, error)
	Size() int
	Clear(ctx context.Context) error
}

var _ Tier[string, int] = (*Cache[string, int])(nil)
