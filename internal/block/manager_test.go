package block

import (
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockcache/internal/region"
)

func newManager(t *testing.T, kind region.Kind, blocks, blockSize int) *Manager {
	t.Helper()
	opts := region.Options{Kind: kind}
	if kind == region.KindFile || kind == region.KindMapped {
		opts.Path = filepath.Join(t.TempDir(), "blocks.dat")
	}
	set, err := region.NewSet(opts, []int64{int64(blocks * blockSize)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	m, err := NewManager(0, set.Regions()[0], blockSize)
	require.NoError(t, err)
	return m
}

func TestManager_FourBlocks_FIFOReuse(t *testing.T) {
	m := newManager(t, region.KindHeap, 4, 16)

	var got []Block
	for i := range 4 {
		b, err := m.Allocate()
		require.NoError(t, err)
		assert.Equal(t, i, b.Index())
		got = append(got, b)
	}

	_, err := m.Allocate()
	assert.ErrorIs(t, err, ErrFull)
	assert.Zero(t, m.Available())

	require.NoError(t, m.Free(got[1]))
	assert.Equal(t, 1, m.Available())

	b, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 1, b.Index())
}

func TestManager_ReuseFollowsFreeOrder(t *testing.T) {
	for _, kind := range []region.Kind{region.KindHeap, region.KindDirect, region.KindFile, region.KindMapped} {
		t.Run(kind.String(), func(t *testing.T) {
			m := newManager(t, kind, 8, 32)

			blocks := make([]Block, 8)
			for i := range blocks {
				b, err := m.Allocate()
				require.NoError(t, err)
				blocks[i] = b
			}

			order := []int{5, 0, 7, 2}
			for _, i := range order {
				require.NoError(t, m.Free(blocks[i]))
			}
			for _, want := range order {
				b, err := m.Allocate()
				require.NoError(t, err)
				assert.Equal(t, want, b.Index())
			}
			_, err := m.Allocate()
			assert.ErrorIs(t, err, ErrFull)
		})
	}
}

func TestManager_DoubleFreeIsNoop(t *testing.T) {
	m := newManager(t, region.KindHeap, 4, 16)

	a, err := m.Allocate()
	require.NoError(t, err)
	b, err := m.Allocate()
	require.NoError(t, err)

	require.NoError(t, m.Free(a))
	require.NoError(t, m.Free(a))
	require.NoError(t, m.Free(b))
	assert.Equal(t, 4, m.Available())

	// Every block comes back exactly once.
	seen := map[int]bool{}
	for range 4 {
		blk, err := m.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[blk.Index()], "block %d handed out twice", blk.Index())
		seen[blk.Index()] = true
	}
	_, err = m.Allocate()
	assert.ErrorIs(t, err, ErrFull)
}

func TestManager_StaleHandle(t *testing.T) {
	m := newManager(t, region.KindHeap, 1, 16)

	old, err := m.Allocate()
	require.NoError(t, err)
	require.NoError(t, m.Free(old))

	assert.ErrorIs(t, m.Put(old, 0, []byte("x")), ErrBlockFreed)
	assert.ErrorIs(t, m.Get(old, 0, make([]byte, 1)), ErrBlockFreed)

	fresh, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, old.Index(), fresh.Index())

	// The old handle must not free or touch the reused block.
	require.NoError(t, m.Free(old))
	assert.Zero(t, m.Available())
	assert.ErrorIs(t, m.Put(old, 0, []byte("x")), ErrBlockFreed)
	require.NoError(t, m.Put(fresh, 0, []byte("x")))

	other := newManager(t, region.KindHeap, 1, 16)
	assert.ErrorIs(t, other.Get(fresh, 0, make([]byte, 1)), ErrBlockFreed)
}

func TestManager_GetPutBounds(t *testing.T) {
	m := newManager(t, region.KindHeap, 2, 16)
	b, err := m.Allocate()
	require.NoError(t, err)

	require.NoError(t, m.Put(b, 0, []byte("0123456789abcdef")))
	buf := make([]byte, 4)
	require.NoError(t, m.Get(b, 12, buf))
	assert.Equal(t, "cdef", string(buf))

	tests := []struct {
		name string
		off  int
		n    int
	}{
		{"negative offset", -1, 1},
		{"past end", 16, 1},
		{"straddles end", 14, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, m.Put(b, tt.off, make([]byte, tt.n)), ErrOutOfBounds)
			assert.ErrorIs(t, m.Get(b, tt.off, make([]byte, tt.n)), ErrOutOfBounds)
		})
	}
}

func TestManager_DataSurvivesNeighbourFree(t *testing.T) {
	m := newManager(t, region.KindHeap, 3, 16)
	a, _ := m.Allocate()
	b, _ := m.Allocate()
	c, _ := m.Allocate()

	require.NoError(t, m.Put(b, 0, []byte("payload-of-blk-b")))
	require.NoError(t, m.Free(a))
	require.NoError(t, m.Free(c)) // writes a link into a

	buf := make([]byte, 16)
	require.NoError(t, m.Get(b, 0, buf))
	assert.Equal(t, "payload-of-blk-b", string(buf))
}

func TestManager_RandomSequenceMatchesModel(t *testing.T) {
	const blocks = 32
	m := newManager(t, region.KindHeap, blocks, 16)
	rng := rand.New(rand.NewPCG(1, 2))

	var live []Block
	for range 5000 {
		if rng.IntN(2) == 0 {
			b, err := m.Allocate()
			if len(live) == blocks {
				require.ErrorIs(t, err, ErrFull)
				continue
			}
			require.NoError(t, err)
			live = append(live, b)
		} else if len(live) > 0 {
			i := rng.IntN(len(live))
			require.NoError(t, m.Free(live[i]))
			if rng.IntN(4) == 0 {
				require.NoError(t, m.Free(live[i])) // duplicate free
			}
			live = append(live[:i], live[i+1:]...)
		}
		require.Equal(t, blocks-len(live), m.Available())
	}
}

func TestManager_ConcurrentAllocateNeverExceedsCapacity(t *testing.T) {
	const blocks = 64
	m := newManager(t, region.KindHeap, blocks, 16)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		owned = map[int]bool{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 2000 {
				b, err := m.Allocate()
				if err != nil {
					continue
				}
				mu.Lock()
				if owned[b.Index()] {
					mu.Unlock()
					t.Errorf("block %d allocated twice", b.Index())
					return
				}
				owned[b.Index()] = true
				if len(owned) > blocks {
					t.Errorf("%d blocks live, capacity %d", len(owned), blocks)
				}
				mu.Unlock()

				_ = m.Put(b, 0, []byte("x"))

				mu.Lock()
				delete(owned, b.Index())
				mu.Unlock()
				if err := m.Free(b); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, blocks, m.Available())
}

func TestNewManager_InvalidBlockSize(t *testing.T) {
	set, err := region.NewSet(region.Options{Kind: region.KindHeap}, []int64{64})
	require.NoError(t, err)
	defer set.Close()

	_, err = NewManager(0, set.Regions()[0], 4)
	assert.ErrorIs(t, err, ErrInvalidBlockSize)
	_, err = NewManager(0, set.Regions()[0], 128)
	assert.ErrorIs(t, err, ErrInvalidBlockSize)

	m, err := NewManager(3, set.Regions()[0], 24)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Blocks())
	assert.Equal(t, int64(48), m.Len())
	assert.Equal(t, 3, m.ID())
}

func TestManager_OnFreeHookAndClose(t *testing.T) {
	m := newManager(t, region.KindHeap, 2, 16)
	calls := 0
	m.SetOnFree(func() { calls++ })

	b, _ := m.Allocate()
	require.NoError(t, m.Free(b))
	require.NoError(t, m.Free(b))
	assert.Equal(t, 1, calls)

	require.NoError(t, m.Close())
	_, err := m.Allocate()
	assert.ErrorIs(t, err, ErrClosed)
}
