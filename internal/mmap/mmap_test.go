package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmap_OpenReadClose(t *testing.T) {
	content := []byte("Hello, Mmap!")
	path := filepath.Join(t.TempDir(), "ro.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())
	assert.False(t, m.Writable())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMmap_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Size())
}

func TestMmap_OpenRW_WritesReachFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rw.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))

	m, err := OpenRW(f, 4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	v, err := m.View(1024, 16)
	require.NoError(t, err)
	copy(v.Bytes(), "block-cache-data")
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "block-cache-data", string(raw[1024:1040]))
}

func TestMmap_OpenRW_FileTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = OpenRW(f, 4096)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMmap_MapAnon(t *testing.T) {
	m, err := MapAnon(8192)
	require.NoError(t, err)

	data := m.Bytes()
	require.Len(t, data, 8192)
	for _, b := range data[:64] {
		require.Zero(t, b)
	}
	data[100] = 42
	assert.Equal(t, byte(42), m.Bytes()[100])
	assert.NoError(t, m.Sync())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	_, err = MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMmap_View(t *testing.T) {
	m, err := MapAnon(4096)
	require.NoError(t, err)

	v, err := m.View(100, 200)
	require.NoError(t, err)
	assert.Len(t, v.Bytes(), 200)
	assert.Equal(t, 200, v.Len())
	assert.Equal(t, 100, v.Offset())
	require.NoError(t, v.Advise(AccessRandom))

	// Views share the parent's memory.
	v.Bytes()[0] = 7
	assert.Equal(t, byte(7), m.Bytes()[100])

	// A view cannot grow into its neighbour.
	assert.Equal(t, 200, cap(v.Bytes()))

	_, err = m.View(-1, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.View(4000, 200)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, m.Close())
	assert.Nil(t, v.Bytes())
	assert.ErrorIs(t, v.Advise(AccessDefault), ErrClosed)
	_, err = m.View(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAccessPatternString(t *testing.T) {
	assert.Equal(t, "random", AccessRandom.String())
	assert.Equal(t, "default", AccessPattern(42).String())
}
