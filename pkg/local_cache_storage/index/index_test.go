package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) *Index {
	x, err := Open(filepath.Join(t.TempDir(), "main_file_cache.idx0"), false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestPutGet(t *testing.T) {
	x := newIndex(t)
	require.Zero(t, x.Capacity())

	_, ok, err := x.Get(0)
	require.NoError(t, err)
	require.False(t, ok)

	e := Entry{Length: 0x123456, Sector: 0xABCDEF}
	require.NoError(t, x.Put(3, e))
	require.EqualValues(t, 4, x.Capacity())

	actual, ok, err := x.Get(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e, actual)

	raw, err := os.ReadFile(x.Path())
	require.NoError(t, err)
	require.Len(t, raw, 4*EntrySize)
	require.Equal(t, make([]byte, 3*EntrySize), raw[:3*EntrySize])
	require.Equal(t, []byte{0x12, 0x34, 0x56, 0xAB, 0xCD, 0xEF}, raw[3*EntrySize:])

	for g := range uint32(3) {
		_, ok, err := x.Get(g)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestPutOutOfRange(t *testing.T) {
	x := newIndex(t)

	require.ErrorIs(t, x.Put(0, Entry{Length: MaxLength + 1, Sector: 1}), common.ErrOutOfRange)
	require.ErrorIs(t, x.Put(0, Entry{Length: 1, Sector: MaxSector + 1}), common.ErrOutOfRange)
}

func TestPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 5, 0, 0, 1, 0, 0}, 0o600))

	x, err := Open(path, false, 0o600)
	require.NoError(t, err)
	defer x.Close()

	require.EqualValues(t, 1, x.Capacity())

	_, ok, err := x.Get(1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, x.Put(1, Entry{Length: 1, Sector: 2}))

	e, ok, err := x.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Entry{Length: 1, Sector: 2}, e)
}

func TestRemoveList(t *testing.T) {
	x := newIndex(t)

	for _, g := range []uint32{0, 5, 7, 5000} {
		require.NoError(t, x.Put(g, Entry{Length: g, Sector: g + 1}))
	}
	// zero-length groups are present
	require.NoError(t, x.Put(9, Entry{Sector: 1}))

	groups, err := x.List()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 5, 7, 9, 5000}, groups)

	require.NoError(t, x.Remove(7))
	require.NoError(t, x.Remove(100_000))

	groups, err = x.List()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 5, 9, 5000}, groups)
	require.EqualValues(t, 5001, x.Capacity())
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")

	x, err := Open(path, false, 0o600)
	require.NoError(t, err)
	require.NoError(t, x.Put(1, Entry{Length: 10, Sector: 1}))
	require.NoError(t, x.Close())

	x, err = Open(path, true, 0)
	require.NoError(t, err)
	defer x.Close()

	e, ok, err := x.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, e.Length)

	require.ErrorIs(t, x.Put(2, Entry{Length: 1, Sector: 1}), common.ErrReadOnly)
	require.ErrorIs(t, x.Remove(1), common.ErrReadOnly)
}
