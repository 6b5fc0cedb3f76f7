package mmap

import "fmt"

// View is a sub-range of a Mapping, typically one cache partition. It does
// not own the memory and becomes unusable once the parent is closed.
type View struct {
	parent *Mapping
	data   []byte
	offset int
}

// View returns the size bytes starting at offset as a separate view.
func (m *Mapping) View(offset, size int) (*View, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset > m.size-size {
		return nil, fmt.Errorf("%w: view [%d, %d) of %d bytes", ErrOutOfBounds, offset, offset+size, m.size)
	}
	return &View{
		parent: m,
		data:   m.data[offset : offset+size : offset+size],
		offset: offset,
	}, nil
}

// Bytes returns the view's memory, or nil once the parent is closed.
func (v *View) Bytes() []byte {
	if v.parent.closed.Load() {
		return nil
	}
	return v.data
}

// Offset returns the view's start within the parent mapping.
func (v *View) Offset() int { return v.offset }

// Len returns the size of the view in bytes.
func (v *View) Len() int { return len(v.data) }

// Advise applies an access hint to the view's pages only.
func (v *View) Advise(pattern AccessPattern) error {
	if v.parent.closed.Load() {
		return ErrClosed
	}
	if len(v.data) == 0 {
		return nil
	}
	return osAdvise(v.data, pattern)
}
