package blockcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/blockcache/index"
	"github.com/hupe1980/blockcache/storage"
)

// CompoundCache stacks a main Cache over a sub Tier. Writes go to main;
// entries evicted from main are demoted into sub instead of being dropped.
//
// With synchronous demotion the evicted entry is written to sub before it
// leaves main. With background demotion the eviction is vetoed, the entry
// stays readable in main, and a single worker writes it to sub and then
// finalizes the removal. A key rewritten in main while its demotion is in
// flight keeps its main copy and loses the sub copy.
type CompoundCache[K comparable, V any] struct {
	main *Cache[K, V]
	sub  Tier[K, V]
	opts compoundOptions

	deferrable index.Deferrable[K, *storage.Ref]

	queue   chan demotion[K]
	done    chan struct{}
	closing atomic.Bool

	// sendMu orders demotion sends before the seal set by Close, so
	// nothing is queued behind the stop marker.
	sendMu sync.RWMutex
	sealed bool

	closeMu  sync.Mutex
	stopSent bool
}

type demotion[K comparable] struct {
	key     K
	ref     *storage.Ref
	barrier chan struct{}
	stop    bool
}

// NewCompound composes main and sub. Background demotion requires main's
// index to implement index.Deferrable; otherwise ErrVetoUnsupported is
// returned.
//
// The compound cache does not own the tiers: Close stops demotion but
// closes neither of them.
func NewCompound[K comparable, V any](main *Cache[K, V], sub Tier[K, V], optFns ...CompoundOption) (*CompoundCache[K, V], error) {
	if main == nil || sub == nil {
		return nil, errors.New("blockcache: main and sub tier are required")
	}

	o := applyCompoundOptions(optFns)
	cc := &CompoundCache[K, V]{
		main: main,
		sub:  sub,
		opts: o,
	}

	if !o.background {
		main.AddEvictionListener(EvictionFunc[K](cc.demoteNow))
		return cc, nil
	}

	d, ok := main.Index().(index.Deferrable[K, *storage.Ref])
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrVetoUnsupported, main.Index())
	}
	cc.deferrable = d
	cc.queue = make(chan demotion[K], o.queueSize)
	cc.done = make(chan struct{})

	go cc.run()

	main.AddEvictionListener(EvictionFunc[K](cc.enqueue))
	return cc, nil
}

// Main returns the main tier.
func (cc *CompoundCache[K, V]) Main() *Cache[K, V] { return cc.main }

// Sub returns the sub tier.
func (cc *CompoundCache[K, V]) Sub() Tier[K, V] { return cc.sub }

// demoteNow writes the evicted entry to sub and lets main drop it. A failed
// demotion is logged and counted; the entry is dropped either way.
func (cc *CompoundCache[K, V]) demoteNow(k K, ref *storage.Ref) bool {
	ctx := context.Background()
	start := time.Now()

	v, ok, err := cc.main.decode(ref)
	if err == nil && ok {
		err = cc.sub.Put(ctx, k, v)
	}
	if err != nil || ok {
		cc.opts.metrics.RecordDemotion(time.Since(start), err)
		cc.opts.logger.LogDemotion(ctx, k, err)
	}
	return true
}

// enqueue hands the entry to the worker and vetoes its removal. A full
// queue, or a cache that is closing, falls back to synchronous demotion so
// the evicting put never blocks on the worker.
func (cc *CompoundCache[K, V]) enqueue(k K, ref *storage.Ref) bool {
	if cc.trySend(k, ref) {
		return false
	}
	return cc.demoteNow(k, ref)
}

func (cc *CompoundCache[K, V]) trySend(k K, ref *storage.Ref) bool {
	cc.sendMu.RLock()
	defer cc.sendMu.RUnlock()

	if cc.sealed {
		return false
	}
	select {
	case cc.queue <- demotion[K]{key: k, ref: ref}:
		return true
	default:
		cc.opts.logger.DebugContext(context.Background(), "demotion queue full", "key", k)
		return false
	}
}

func (cc *CompoundCache[K, V]) run() {
	defer close(cc.done)

	ctx := context.Background()
	for d := range cc.queue {
		switch {
		case d.barrier != nil:
			close(d.barrier)
		case d.stop:
			cc.drain(ctx)
			return
		default:
			cc.demote(ctx, d)
		}
	}
}

// drain releases flush barriers queued behind the stop marker.
func (cc *CompoundCache[K, V]) drain(ctx context.Context) {
	for {
		select {
		case d := <-cc.queue:
			switch {
			case d.barrier != nil:
				close(d.barrier)
			case !d.stop:
				cc.demote(ctx, d)
			}
		default:
			return
		}
	}
}

func (cc *CompoundCache[K, V]) demote(ctx context.Context, d demotion[K]) {
	rc := cc.opts.resource
	if err := rc.AcquireBackground(ctx); err != nil {
		cc.opts.logger.LogDemotion(ctx, d.key, err)
		cc.finalize(d, nil)
		return
	}
	defer rc.ReleaseBackground()

	start := time.Now()
	data, err := cc.main.store.Read(d.ref)
	if errors.Is(err, storage.ErrRefFreed) {
		// Removed or finalized by someone else.
		return
	}

	var v V
	if err == nil {
		err = rc.AcquireIO(ctx, len(data))
	}
	if err == nil {
		v, err = cc.main.codec.Decode(data)
	}
	if err == nil {
		err = cc.sub.Put(ctx, d.key, v)
	}

	cc.opts.metrics.RecordDemotion(time.Since(start), err)
	cc.opts.logger.LogDemotion(ctx, d.key, err)

	if err != nil {
		// Nothing reached sub; drop the entry as a plain eviction would.
		cc.finalize(d, nil)
		return
	}

	if !cc.finalize(d, data) {
		if _, err := cc.sub.Delete(ctx, d.key); err != nil {
			cc.opts.logger.WarnContext(ctx, "delete of superseded demotion failed", "key", d.key, "error", err)
		}
	}
}

// finalize removes the deferred entry from main and frees its blocks. It
// reports false when main kept the entry because it was rewritten after
// data was read. A nil data skips the comparison.
func (cc *CompoundCache[K, V]) finalize(d demotion[K], data []byte) bool {
	mu := cc.main.lock(d.key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := cc.main.store.Read(d.ref)
	if err != nil {
		// Freed meanwhile; whoever freed it owns the outcome.
		return true
	}
	if data != nil && !bytes.Equal(cur, data) {
		return false
	}

	ref, ok := cc.deferrable.RemoveDeferred(d.key)
	if !ok {
		return false
	}
	if err := cc.main.store.Remove(d.key, ref); err != nil {
		cc.opts.logger.WarnContext(context.Background(), "free of demoted entry failed", "key", d.key, "error", err)
	}
	return true
}

// Flush waits until every demotion queued before the call has completed.
// It is a no-op under synchronous demotion.
func (cc *CompoundCache[K, V]) Flush(ctx context.Context) error {
	if cc.queue == nil {
		return nil
	}
	if cc.closing.Load() {
		return ErrClosed
	}

	b := make(chan struct{})
	select {
	case cc.queue <- demotion[K]{barrier: b}:
	case <-cc.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// A stopped worker has finished every demotion queued before the stop.
	select {
	case <-b:
		return nil
	case <-cc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the value of k from main, or else from sub. With
// promote-on-get, a value found in sub is moved into main.
func (cc *CompoundCache[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	v, ok, err := cc.main.Get(ctx, k)
	if err != nil || ok {
		return v, ok, err
	}

	v, ok, err = cc.sub.Get(ctx, k)
	if err != nil || !ok {
		return v, ok, err
	}

	if cc.opts.promoteOnGet {
		cc.promote(ctx, k, v)
	}
	return v, true, nil
}

// promote copies v into main and then deletes it from sub. A failure leaves
// the value in sub.
func (cc *CompoundCache[K, V]) promote(ctx context.Context, k K, v V) {
	err := cc.main.Put(ctx, k, v)
	if err == nil {
		_, err = cc.sub.Delete(ctx, k)
	}
	cc.opts.metrics.RecordPromotion(err)
	cc.opts.logger.LogPromotion(ctx, k, err)
}

// GetAll returns the values of every key present in either tier.
func (cc *CompoundCache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	out, err := cc.main.GetAll(ctx, keys)
	if err != nil {
		return out, err
	}

	for _, k := range keys {
		if _, ok := out[k]; ok {
			continue
		}
		v, ok, err := cc.Get(ctx, k)
		if err != nil {
			return out, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Put stores v in main.
func (cc *CompoundCache[K, V]) Put(ctx context.Context, k K, v V) error {
	return cc.main.Put(ctx, k, v)
}

// PutAll stores every entry in main.
func (cc *CompoundCache[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	return cc.main.PutAll(ctx, entries)
}

// Remove deletes k from both tiers and returns the value it held, main's
// copy taking precedence.
func (cc *CompoundCache[K, V]) Remove(ctx context.Context, k K) (V, bool, error) {
	v, ok, err := cc.main.Remove(ctx, k)
	if err != nil {
		return v, false, err
	}

	if !ok {
		v, ok, err = cc.sub.Get(ctx, k)
		if err != nil {
			return v, false, err
		}
	}
	if _, err := cc.sub.Delete(ctx, k); err != nil {
		return v, ok, err
	}
	return v, ok, nil
}

// Delete deletes k from both tiers and reports whether either held it.
func (cc *CompoundCache[K, V]) Delete(ctx context.Context, k K) (bool, error) {
	inMain, err := cc.main.Delete(ctx, k)
	if err != nil {
		return false, err
	}
	inSub, err := cc.sub.Delete(ctx, k)
	if err != nil {
		return inMain, err
	}
	return inMain || inSub, nil
}

// Contains reports whether either tier holds k.
func (cc *CompoundCache[K, V]) Contains(ctx context.Context, k K) (bool, error) {
	ok, err := cc.main.Contains(ctx, k)
	if err != nil || ok {
		return ok, err
	}
	return cc.sub.Contains(ctx, k)
}

// Size returns the entries of main plus the entries of sub.
func (cc *CompoundCache[K, V]) Size() int {
	return cc.main.Size() + cc.sub.Size()
}

// Clear waits for pending demotions and clears both tiers.
func (cc *CompoundCache[K, V]) Clear(ctx context.Context) error {
	if err := cc.Flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	if err := cc.main.Clear(ctx); err != nil {
		return err
	}
	return cc.sub.Clear(ctx)
}

// Close drains the demotion queue and stops the worker. Evictions after
// Close demote synchronously. Neither tier is closed.
func (cc *CompoundCache[K, V]) Close(ctx context.Context) error {
	cc.closing.Store(true)
	if cc.queue == nil {
		return nil
	}

	cc.sendMu.Lock()
	cc.sealed = true
	cc.sendMu.Unlock()

	cc.closeMu.Lock()
	if !cc.stopSent {
		select {
		case cc.queue <- demotion[K]{stop: true}:
			cc.stopSent = true
		case <-ctx.Done():
			cc.closeMu.Unlock()
			return ctx.Err()
		}
	}
	cc.closeMu.Unlock()

	select {
	case <-cc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Tier[string, int] = (*CompoundCache[string, int])(nil)
