package region

import (
	"errors"
	"io"

	"github.com/hupe1980/blockcache/internal/fs"
)

// fileRegion is a section [base, base+length) of a shared file.
// The file itself is owned and closed by the Set.
type fileRegion struct {
	f      fs.File
	base   int64
	length int64
	closed bool
}

func (r *fileRegion) ReadAt(p []byte, off int64) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), r.length); err != nil {
		return 0, err
	}
	n, err := r.f.ReadAt(p, r.base+off)
	// Short reads of a truncated tail are zeros by construction.
	if errors.Is(err, io.EOF) {
		clear(p[n:])
		return len(p), nil
	}
	return n, err
}

func (r *fileRegion) WriteAt(p []byte, off int64) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if err := checkRange(off, len(p), r.length); err != nil {
		return 0, err
	}
	return r.f.WriteAt(p, r.base+off)
}

func (r *fileRegion) Len() int64 { return r.length }

func (r *fileRegion) Kind() Kind { return KindFile }

func (r *fileRegion) Close() error {
	r.closed = true
	return nil
}
