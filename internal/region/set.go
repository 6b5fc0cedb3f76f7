package region

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/blockcache/internal/fs"
	"github.com/hupe1980/blockcache/internal/mem"
	"github.com/hupe1980/blockcache/internal/mmap"
	"github.com/hupe1980/blockcache/resource"
)

// Options configures how a Set obtains its regions.
type Options struct {
	// Kind selects the backing.
	Kind Kind
	// Path is the backing file for KindFile and KindMapped. Regions added
	// after the first batch go to "<Path>.<n>".
	Path string
	// FS opens files for KindFile. Defaults to fs.Default.
	FS fs.FileSystem
	// RemoveOnClose deletes the backing files when the set is closed.
	RemoveOnClose bool
	// Resource accounts heap and direct memory. Optional.
	Resource *resource.Controller
}

// Set owns every region of one backing, plus the files or mappings shared by
// them. Regions are created in batches; each file-backed batch lives in its
// own file.
type Set struct {
	opts Options

	mu      sync.Mutex
	regions []Region
	closers []io.Closer
	syncers []func() error
	paths   []string
	batches int
	closed  bool
}

// NewSet creates a set holding one region per entry of sizes.
func NewSet(opts Options, sizes []int64) (*Set, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	switch opts.Kind {
	case KindHeap, KindDirect:
	case KindFile, KindMapped:
		if opts.Path == "" {
			return nil, fmt.Errorf("region: %s backing requires a path", opts.Kind)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, opts.Kind)
	}

	s := &Set{opts: opts}
	if _, err := s.Add(sizes...); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Kind returns the backing kind shared by every region.
func (s *Set) Kind() Kind { return s.opts.Kind }

// Regions returns all regions in creation order.
func (s *Set) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Add creates one more region per entry of sizes and returns them.
func (s *Set) Add(sizes ...int64) ([]Region, error) {
	limit := s.opts.Kind.MaxSize()
	for _, size := range sizes {
		if size <= 0 || size > limit {
			return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidSize, size, limit)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	var (
		added []Region
		err   error
	)
	switch s.opts.Kind {
	case KindHeap:
		added, err = s.addHeap(sizes)
	case KindDirect:
		added, err = s.addDirect(sizes)
	case KindFile:
		added, err = s.addFile(sizes)
	case KindMapped:
		added, err = s.addMapped(sizes)
	}
	if err != nil {
		return nil, err
	}

	s.batches++
	s.regions = append(s.regions, added...)
	return added, nil
}

func (s *Set) addHeap(sizes []int64) ([]Region, error) {
	rc := s.opts.Resource
	out := make([]Region, 0, len(sizes))
	for _, size := range sizes {
		if err := rc.AcquireMemory(size); err != nil {
			for _, r := range out {
				_ = r.Close()
			}
			return nil, fmt.Errorf("region: reserve %d heap bytes: %w", size, err)
		}
		out = append(out, &sliceRegion{
			kind: KindHeap,
			data: mem.AllocAligned(int(size)),
			release: func() error {
				rc.ReleaseMemory(size)
				return nil
			},
		})
	}
	return out, nil
}

func (s *Set) addDirect(sizes []int64) ([]Region, error) {
	rc := s.opts.Resource
	out := make([]Region, len(sizes))

	var g errgroup.Group
	for i, size := range sizes {
		g.Go(func() error {
			if err := rc.AcquireMemory(size); err != nil {
				return fmt.Errorf("region: reserve %d direct bytes: %w", size, err)
			}
			m, err := mmap.MapAnon(int(size))
			if err != nil {
				rc.ReleaseMemory(size)
				return fmt.Errorf("region: map %d direct bytes: %w", size, err)
			}
			out[i] = &sliceRegion{
				kind: KindDirect,
				data: m.Bytes(),
				release: func() error {
					defer rc.ReleaseMemory(size)
					return m.Close()
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range out {
			if r != nil {
				_ = r.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

func (s *Set) nextPath() string {
	if s.batches == 0 {
		return s.opts.Path
	}
	return fmt.Sprintf("%s.%d", s.opts.Path, s.batches)
}

func total(sizes []int64) int64 {
	var n int64
	for _, size := range sizes {
		n += size
	}
	return n
}

func (s *Set) addFile(sizes []int64) ([]Region, error) {
	path := s.nextPath()
	f, err := s.opts.FS.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	if err := f.Truncate(total(sizes)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("region: size %s: %w", path, err)
	}

	out := make([]Region, 0, len(sizes))
	var base int64
	for _, size := range sizes {
		out = append(out, &fileRegion{f: f, base: base, length: size})
		base += size
	}

	s.closers = append(s.closers, f)
	s.syncers = append(s.syncers, f.Sync)
	s.paths = append(s.paths, path)
	return out, nil
}

func (s *Set) addMapped(sizes []int64) ([]Region, error) {
	path := s.nextPath()
	size := total(sizes)
	if size > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("%w: mapping of %d bytes", ErrInvalidSize, size)
	}

	// mmap needs a real descriptor, so mapped files bypass the FileSystem.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("region: size %s: %w", path, err)
	}

	m, err := mmap.OpenRW(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("region: map %s: %w", path, err)
	}

	out := make([]Region, 0, len(sizes))
	offset := 0
	for _, sz := range sizes {
		view, err := m.View(offset, int(sz))
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		// Advice only; a failure leaves the kernel default.
		_ = view.Advise(mmap.AccessRandom)
		out = append(out, &sliceRegion{kind: KindMapped, data: view.Bytes()})
		offset += int(sz)
	}

	s.closers = append(s.closers, m)
	s.syncers = append(s.syncers, m.Sync)
	s.paths = append(s.paths, path)
	return out, nil
}

// Sync flushes file and mapped backings. It is a no-op for memory backings.
func (s *Set) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	var errs []error
	for _, fn := range s.syncers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every region and shared resource. It is idempotent.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, r := range s.regions {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.opts.RemoveOnClose {
		for _, p := range s.paths {
			if err := s.opts.FS.Remove(p); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
	}
	s.regions = nil
	s.closers = nil
	s.syncers = nil
	return errors.Join(errs...)
}
