package blobtier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hupe1980/blockcache"
	"github.com/hupe1980/blockcache/blobstore"
	"github.com/hupe1980/blockcache/codec"
	"github.com/hupe1980/blockcache/internal/hash"
)

// Namer maps a key to the blob name below the tier's prefix.
type Namer[K comparable] func(k K) string

type options[K comparable] struct {
	prefix string
	namer  Namer[K]
	logger *slog.Logger
}

// Option configures a Tier.
type Option[K comparable] func(*options[K])

// WithPrefix places every blob of the tier under prefix. Size and Clear only
// see blobs below it.
func WithPrefix[K comparable](prefix string) Option[K] {
	return func(o *options[K]) {
		o.prefix = prefix
	}
}

// WithNamer replaces the default key naming, which path-escapes
// fmt.Sprint(k). Names must be unique per key and valid for the store.
func WithNamer[K comparable](fn Namer[K]) Option[K] {
	return func(o *options[K]) {
		o.namer = fn
	}
}

// WithLogger sets the logger for failures that cannot be returned.
func WithLogger[K comparable](l *slog.Logger) Option[K] {
	return func(o *options[K]) {
		if l != nil {
			o.logger = l
		}
	}
}

// Tier stores values as checksummed blobs.
type Tier[K comparable, V any] struct {
	store  blobstore.Store
	codec  codec.Codec[V]
	prefix string
	namer  Namer[K]
	logger *slog.Logger
}

// New creates a tier over store. A nil codec selects codec.Default.
func New[K comparable, V any](store blobstore.Store, c codec.Codec[V], optFns ...Option[K]) *Tier[K, V] {
	o := options[K]{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.namer == nil {
		o.namer = func(k K) string { return url.PathEscape(fmt.Sprint(k)) }
	}
	if c == nil {
		c = codec.Default[V]()
	}

	return &Tier[K, V]{
		store:  store,
		codec:  c,
		prefix: o.prefix,
		namer:  o.namer,
		logger: o.logger,
	}
}

func (t *Tier[K, V]) name(k K) string { return t.prefix + t.namer(k) }

// Get returns the value of k.
func (t *Tier[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V

	name := t.name(k)
	blob, err := t.store.Get(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("blobtier: get %s: %w", name, err)
	}

	payload, err := unframe(name, blob)
	if err != nil {
		return zero, false, err
	}
	v, err := t.codec.Decode(payload)
	if err != nil {
		return zero, false, fmt.Errorf("blobtier: decode %s: %w", name, err)
	}
	return v, true, nil
}

// Put writes v as the blob of k.
func (t *Tier[K, V]) Put(ctx context.Context, k K, v V) error {
	payload, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("blobtier: encode: %w", err)
	}

	name := t.name(k)
	if err := t.store.Put(ctx, name, hash.Frame(payload)); err != nil {
		return fmt.Errorf("blobtier: put %s: %w", name, err)
	}
	return nil
}

// Delete removes the blob of k and reports whether it existed.
func (t *Tier[K, V]) Delete(ctx context.Context, k K) (bool, error) {
	found, err := t.Contains(ctx, k)
	if err != nil || !found {
		return false, err
	}

	name := t.name(k)
	if err := t.store.Delete(ctx, name); err != nil {
		return false, fmt.Errorf("blobtier: delete %s: %w", name, err)
	}
	return true, nil
}

// Contains reports whether the blob of k exists.
func (t *Tier[K, V]) Contains(ctx context.Context, k K) (bool, error) {
	name := t.name(k)
	_, err := t.store.Get(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, blobstore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("blobtier: stat %s: %w", name, err)
	}
}

// Size returns the number of blobs below the prefix. A listing failure is
// logged and reads as zero.
func (t *Tier[K, V]) Size() int {
	names, err := t.store.List(context.Background(), t.prefix)
	if err != nil {
		t.logger.Warn("blobtier: list failed", slog.String("prefix", t.prefix), slog.Any("error", err))
		return 0
	}
	return len(names)
}

// Clear deletes every blob below the prefix.
func (t *Tier[K, V]) Clear(ctx context.Context) error {
	names, err := t.store.List(ctx, t.prefix)
	if err != nil {
		return fmt.Errorf("blobtier: list %s: %w", t.prefix, err)
	}

	var errs []error
	for _, name := range names {
		if !strings.HasPrefix(name, t.prefix) {
			continue
		}
		if err := t.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("blobtier: delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func unframe(name string, blob []byte) ([]byte, error) {
	payload, err := hash.Unframe(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: blobtier: %s: %w", codec.ErrInvalidEncoding, name, err)
	}
	return payload, nil
}

var _ blockcache.Tier[string, int] = (*Tier[string, int])(nil)
