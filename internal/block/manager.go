package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/blockcache/internal/region"
)

// LinkSize is the number of leading bytes of a free block used for the link.
const LinkSize = 8

const none int64 = -1

var (
	// ErrFull is returned by Allocate when every block is in use.
	ErrFull = errors.New("block: no free block")
	// ErrOutOfBounds is returned for block-relative access outside [0, blockSize).
	ErrOutOfBounds = errors.New("block: access out of bounds")
	// ErrBlockFreed is returned when a handle refers to a freed or reused block.
	ErrBlockFreed = errors.New("block: block already freed")
	// ErrInvalidBlockSize is returned when blockSize cannot hold a link word
	// or exceeds the region.
	ErrInvalidBlockSize = errors.New("block: invalid block size")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("block: manager closed")
)

// Block is a handle to one allocated block.
type Block struct {
	mgr   *Manager
	index int
	gen   uint32
}

// Index returns the block index within its region.
func (b Block) Index() int { return b.index }

// Offset returns the byte offset of the block within its region.
func (b Block) Offset() int64 { return int64(b.index) * int64(b.mgr.blockSize) }

// Manager returns the manager that issued the block.
func (b Block) Manager() *Manager { return b.mgr }

// IsZero reports whether b is the zero handle.
func (b Block) IsZero() bool { return b.mgr == nil }

// Manager owns one region and its free list.
type Manager struct {
	id        int
	r         region.Region
	blockSize int
	blocks    int
	length    int64

	mu     sync.Mutex
	head   int64
	tail   int64
	free   *roaring.Bitmap
	gens   []uint32
	closed bool

	io sync.RWMutex

	onFree func()
}

// NewManager threads every block of r into the free list.
// r must read as zeros; regions from internal/region always do.
func NewManager(id int, r region.Region, blockSize int) (*Manager, error) {
	if blockSize < LinkSize || int64(blockSize) > r.Len() {
		return nil, fmt.Errorf("%w: %d for region of %d bytes", ErrInvalidBlockSize, blockSize, r.Len())
	}

	if r.Len()/int64(blockSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks exceed the addressable range", ErrInvalidBlockSize, r.Len()/int64(blockSize))
	}

	blocks := int(r.Len() / int64(blockSize))
	m := &Manager{
		id:        id,
		r:         r,
		blockSize: blockSize,
		blocks:    blocks,
		length:    int64(blocks) * int64(blockSize),
		head:      0,
		tail:      int64(blocks-1) * int64(blockSize),
		free:      roaring.New(),
		gens:      make([]uint32, blocks),
	}
	m.free.AddRange(0, uint64(blocks))
	return m, nil
}

// SetOnFree installs a hook run after every successful Free, outside the
// manager lock. It must be set before the manager is shared.
func (m *Manager) SetOnFree(fn func()) { m.onFree = fn }

// ID returns the partition id given at construction.
func (m *Manager) ID() int { return m.id }

// BlockSize returns the size of each block in bytes.
func (m *Manager) BlockSize() int { return m.blockSize }

// Blocks returns the total number of blocks.
func (m *Manager) Blocks() int { return m.blocks }

// Len returns the usable region length (Blocks × BlockSize).
func (m *Manager) Len() int64 { return m.length }

// Available returns the number of free blocks.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.free.GetCardinality())
}

// Allocate pops the oldest free block. It returns ErrFull when no block is
// free; it never hands out a partial block.
func (m *Manager) Allocate() (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Block{}, ErrClosed
	}
	if m.head == none {
		return Block{}, ErrFull
	}

	off := m.head
	if m.head == m.tail {
		m.head, m.tail = none, none
	} else {
		delta, err := m.readLink(off)
		if err != nil {
			return Block{}, err
		}
		m.head = mod(off+delta+int64(m.blockSize), m.length)
	}

	idx := int(off / int64(m.blockSize))
	m.free.Remove(uint32(idx))
	m.gens[idx]++
	return Block{mgr: m, index: idx, gen: m.gens[idx]}, nil
}

// Free returns b to the tail of the free list. Freeing a block that is
// already free, or passing a stale handle, is a no-op.
func (m *Manager) Free(b Block) error {
	if b.mgr != m {
		return nil
	}

	m.mu.Lock()
	if m.closed || !m.ownsLocked(b) {
		m.mu.Unlock()
		return nil
	}

	off := b.Offset()
	if m.tail != none {
		delta := mod(off-m.tail-int64(m.blockSize), m.length)
		if err := m.writeLink(m.tail, delta); err != nil {
			m.mu.Unlock()
			return err
		}
	} else {
		m.head = off
	}
	m.tail = off
	m.free.Add(uint32(b.index))
	m.mu.Unlock()

	if m.onFree != nil {
		m.onFree()
	}
	return nil
}

// Get copies len(p) bytes starting at the block-relative offset off into p.
func (m *Manager) Get(b Block, off int, p []byte) error {
	if err := m.checkBounds(off, len(p)); err != nil {
		return err
	}
	if err := m.lockValid(b, false); err != nil {
		return err
	}
	defer m.io.RUnlock()

	_, err := m.r.ReadAt(p, b.Offset()+int64(off))
	return err
}

// Put copies p into the block starting at the block-relative offset off.
func (m *Manager) Put(b Block, off int, p []byte) error {
	if err := m.checkBounds(off, len(p)); err != nil {
		return err
	}
	if err := m.lockValid(b, true); err != nil {
		return err
	}
	defer m.io.Unlock()

	_, err := m.r.WriteAt(p, b.Offset()+int64(off))
	return err
}

// Close marks the manager closed. The region itself belongs to its set.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Manager) checkBounds(off, n int) error {
	if off < 0 || n < 0 || off+n > m.blockSize {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfBounds, off, off+n, m.blockSize)
	}
	return nil
}

// lockValid validates b under the manager lock and hands over to the region
// lock, so the block cannot be freed between the check and the access.
func (m *Manager) lockValid(b Block, write bool) error {
	if b.mgr != m {
		return ErrBlockFreed
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.ownsLocked(b) {
		m.mu.Unlock()
		return ErrBlockFreed
	}
	if write {
		m.io.Lock()
	} else {
		m.io.RLock()
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) ownsLocked(b Block) bool {
	if b.index < 0 || b.index >= m.blocks {
		return false
	}
	return !m.free.Contains(uint32(b.index)) && m.gens[b.index] == b.gen
}

func (m *Manager) readLink(off int64) (int64, error) {
	var buf [LinkSize]byte
	m.io.RLock()
	_, err := m.r.ReadAt(buf[:], off)
	m.io.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("block: read link at %d: %w", off, err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func (m *Manager) writeLink(off, delta int64) error {
	var buf [LinkSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(delta))
	m.io.Lock()
	_, err := m.r.WriteAt(buf[:], off)
	m.io.Unlock()
	if err != nil {
		return fmt.Errorf("block: write link at %d: %w", off, err)
	}
	return nil
}

func mod(a, n int64) int64 {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
