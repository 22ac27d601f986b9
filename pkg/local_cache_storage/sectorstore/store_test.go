package sectorstore

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T, f Format) *Store {
	s, err := Create(Config{
		Root:   filepath.Join(t.TempDir(), "cache"),
		Format: f,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func dataFile(s *Store) string {
	return filepath.Join(s.Root(), DataFileName)
}

func TestCreateOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	s, err := Create(Config{Root: root, Format: FormatExtended})
	require.NoError(t, err)
	require.NoError(t, s.WriteGroup(2, 10, []byte("hello")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = Create(Config{Root: root})
	require.ErrorIs(t, err, os.ErrExist)

	require.FileExists(t, filepath.Join(root, LayoutFileName))
	require.FileExists(t, filepath.Join(root, IndexFileName(2)))

	// recorded format wins over the configured one
	s, err = Open(Config{Root: root, Format: FormatLegacy})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, FormatExtended, s.Format())
	require.Equal(t, []uint8{2}, s.Archives())

	data, err := s.ReadGroup(2, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(Config{Root: t.TempDir()})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocked(t *testing.T) {
	s := newTestStore(t, FormatNative)

	_, err := Open(Config{Root: s.Root()})
	require.Error(t, err)
}

func TestLegacyLayout(t *testing.T) {
	s := newTestStore(t, FormatNative)

	require.NoError(t, s.WriteGroup(2, 3, bytes.Repeat([]byte{0xAA}, 600)))

	raw, err := os.ReadFile(dataFile(s))
	require.NoError(t, err)
	require.Len(t, raw, 2*520+8+88)

	require.Equal(t, []byte{0, 3, 0, 0, 0, 0, 2, 2}, raw[520:528])
	require.Equal(t, []byte{0, 3, 0, 1, 0, 0, 0, 2}, raw[1040:1048])

	raw, err = os.ReadFile(filepath.Join(s.Root(), IndexFileName(2)))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0x02, 0x58, 0, 0, 1}, raw[3*6:])
}

func TestNativeLongHeader(t *testing.T) {
	s := newTestStore(t, FormatNative)

	const group = 0x012345
	data := testData(1000)

	p, err := s.WriteChain(7, group, data)
	require.NoError(t, err)
	require.Len(t, p.Sectors(), 2)
	require.NoError(t, s.Commit(p))

	raw, err := os.ReadFile(dataFile(s))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 0x23, 0x45, 0, 0, 0, 0, 2, 7}, raw[520:530])
	require.Equal(t, data[:510], raw[530:1040])

	actual, err := s.ReadGroup(7, group)
	require.NoError(t, err)
	require.Equal(t, data, actual)
}

func TestLegacyOutOfRange(t *testing.T) {
	s := newTestStore(t, FormatLegacy)

	require.ErrorIs(t, s.WriteGroup(0, 1<<16, []byte{1}), common.ErrOutOfRange)
	require.NoError(t, s.WriteGroup(0, 1<<16-1, []byte{1}))
}

func TestSectorReconstruction(t *testing.T) {
	for _, f := range []Format{FormatNative, FormatLegacy, FormatExtended} {
		groups := []uint32{1}
		if f != FormatLegacy {
			groups = append(groups, 100_000)
		}

		t.Run(f.String(), func(t *testing.T) {
			s := newTestStore(t, f)

			for _, group := range groups {
				g, err := f.geometry(group)
				require.NoError(t, err)

				for _, l := range []int{0, 1, g.payload - 1, g.payload, g.payload + 1, 3 * g.payload, 5*g.payload + 17} {
					data := testData(l)

					p, err := s.WriteChain(1, group, data)
					require.NoError(t, err)
					require.Len(t, p.Sectors(), max(1, (l+g.payload-1)/g.payload))
					require.NoError(t, s.Commit(p))

					actual, err := s.ReadGroup(1, group)
					require.NoError(t, err)
					require.Len(t, actual, l)
					require.True(t, bytes.Equal(data, actual))
				}
			}
		})
	}
}

func TestFreeSectorReuse(t *testing.T) {
	s := newTestStore(t, FormatNative)

	require.NoError(t, s.WriteGroup(0, 1, testData(10*512)))
	require.NoError(t, s.WriteGroup(0, 1, testData(512)))

	size := s.Stats().DataFileLength
	require.Equal(t, 10, s.Stats().FreeSectors)

	// fits into the released chain
	require.NoError(t, s.WriteGroup(3, 2, testData(4*512)))
	require.NoError(t, s.WriteGroup(0, 3, testData(6*512)))

	st := s.Stats()
	require.Equal(t, size, st.DataFileLength)
	require.Zero(t, st.FreeSectors)
	require.EqualValues(t, 10, st.SectorsReused)

	for group, l := range map[uint32]int{1: 512, 3: 6 * 512} {
		data, err := s.ReadGroup(0, group)
		require.NoError(t, err)
		require.Equal(t, testData(l), data)
	}

	data, err := s.ReadGroup(3, 2)
	require.NoError(t, err)
	require.Equal(t, testData(4*512), data)
}

func TestAbort(t *testing.T) {
	s := newTestStore(t, FormatNative)

	p, err := s.WriteChain(4, 4, testData(2000))
	require.NoError(t, err)
	s.Abort(p)
	s.Abort(p)
	require.Error(t, s.Commit(p))

	_, err = s.ReadGroup(4, 4)
	require.ErrorIs(t, err, common.ErrNotFound)
	require.Equal(t, 4, s.Stats().FreeSectors)
}

func TestRemoveGroup(t *testing.T) {
	s := newTestStore(t, FormatNative)

	require.NoError(t, s.WriteGroup(1, 1, []byte("one")))
	require.NoError(t, s.WriteGroup(1, 2, []byte("two")))

	require.NoError(t, s.RemoveGroup(1, 1))
	require.NoError(t, s.RemoveGroup(1, 1))
	require.NoError(t, s.RemoveGroup(9, 1))

	ok, err := s.Exists(1, 1)
	require.NoError(t, err)
	require.False(t, ok)

	groups, err := s.List(1)
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, groups)

	_, err = s.List(9)
	require.ErrorIs(t, err, common.ErrNotFound)
	require.EqualValues(t, 1, s.Stats().SectorsFreed)
}

func corrupt(t *testing.T, s *Store, off int64, b ...byte) {
	f, err := os.OpenFile(dataFile(s), os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestChainCorruption(t *testing.T) {
	const second = 2 * 520

	for name, tc := range map[string]struct {
		off  int64
		data []byte
		err  error
	}{
		"chunk":          {second + 2, []byte{0, 5}, common.ErrCorruptSectorChain},
		"group":          {second, []byte{0, 9}, common.ErrCorruptSectorChain},
		"archive":        {second + 7, []byte{1}, common.ErrCorruptSectorChain},
		"next loop":      {second + 4, []byte{0, 0, 1}, common.ErrCorruptSectorChain},
		"next outside":   {second + 4, []byte{0, 0x10, 0}, common.ErrCorruptSectorChain},
		"next premature": {second + 4, []byte{0, 0, 0}, common.ErrTruncatedStore},
		"last not final": {3*520 + 4, []byte{0, 0, 1}, common.ErrCorruptSectorChain},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, FormatNative)

			data := testData(3 * 512)
			require.NoError(t, s.WriteGroup(0, 3, data))

			actual, err := s.ReadGroup(0, 3)
			require.NoError(t, err)
			require.Equal(t, data, actual)

			corrupt(t, s, tc.off, tc.data...)

			_, err = s.ReadGroup(0, 3)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestTruncatedDataFile(t *testing.T) {
	s := newTestStore(t, FormatNative)

	require.NoError(t, s.WriteGroup(0, 3, testData(2*512)))
	require.NoError(t, os.Truncate(dataFile(s), 2*520+100))

	_, err := s.ReadGroup(0, 3)
	require.ErrorIs(t, err, common.ErrTruncatedStore)
}

func TestReadOnly(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	s, err := Create(Config{Root: root})
	require.NoError(t, err)
	require.NoError(t, s.WriteGroup(0, 0, []byte("data")))
	require.NoError(t, s.Close())

	_, err = Create(Config{Root: root, ReadOnly: true})
	require.ErrorIs(t, err, common.ErrReadOnly)

	s, err = Open(Config{Root: root, ReadOnly: true})
	require.NoError(t, err)
	defer s.Close()

	data, err := s.ReadGroup(0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)

	require.ErrorIs(t, s.WriteGroup(0, 1, nil), common.ErrReadOnly)
	require.ErrorIs(t, s.WriteGroup(5, 1, nil), common.ErrReadOnly)
	require.ErrorIs(t, s.RemoveGroup(0, 0), common.ErrReadOnly)
	require.NoError(t, s.Flush())
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t, FormatNative)

	versions := [][]byte{
		bytes.Repeat([]byte{1}, 3000),
		bytes.Repeat([]byte{2}, 700),
		bytes.Repeat([]byte{3}, 5000),
	}
	require.NoError(t, s.WriteGroup(1, 1, versions[0]))

	var wg sync.WaitGroup

	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				require.NoError(t, s.WriteGroup(uint8(w%2), 1, versions[(w+i)%len(versions)]))
			}
		}()
	}

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				data, err := s.ReadGroup(1, 1)
				require.NoError(t, err)
				require.Contains(t, versions, data)
			}
		}()
	}

	wg.Wait()

	require.NoError(t, s.Flush())
}

func TestCommitAll(t *testing.T) {
	s := newTestStore(t, FormatNative)

	require.NoError(t, s.WriteGroup(2, 1, []byte("old")))

	p1, err := s.WriteChain(2, 1, []byte("new"))
	require.NoError(t, err)
	p2, err := s.WriteChain(MetaArchive, 2, []byte("manifest"))
	require.NoError(t, err)

	require.NoError(t, s.CommitAll(p1, p2))
	require.Error(t, s.Commit(p1))

	data, err := s.ReadGroup(2, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), data)

	data, err = s.ReadGroup(MetaArchive, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("manifest"), data)

	require.Equal(t, 1, s.Stats().FreeSectors)
}

func TestCommitAllRestoresEntries(t *testing.T) {
	s, err := Create(Config{
		Root:   filepath.Join(t.TempDir(), "cache"),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	// the broken index is closed twice
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.WriteGroup(2, 1, []byte("old")))
	require.NoError(t, s.WriteGroup(5, 1, []byte("other")))

	p1, err := s.WriteChain(2, 1, []byte("new"))
	require.NoError(t, err)
	p2, err := s.WriteChain(2, 2, []byte("added"))
	require.NoError(t, err)
	p3, err := s.WriteChain(5, 1, []byte("broken"))
	require.NoError(t, err)

	require.NoError(t, s.archives[5].idx.Close())

	require.Error(t, s.CommitAll(p1, p2, p3))

	data, err := s.ReadGroup(2, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("old"), data)

	_, err = s.ReadGroup(2, 2)
	require.ErrorIs(t, err, common.ErrNotFound)

	// all pending chains are aborted, the old chain stays referenced
	require.Equal(t, 3, s.Stats().FreeSectors)
	require.Error(t, s.Commit(p1))
}

func TestAttributes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	s, err := Create(Config{Root: root})
	require.NoError(t, err)

	_, ok := s.Attribute("master_index")
	require.False(t, ok)

	require.NoError(t, s.SetAttribute("master_index", "legacy"))
	require.NoError(t, s.SetAttribute("master_index", "legacy"))

	v, ok := s.Attribute("master_index")
	require.True(t, ok)
	require.Equal(t, "legacy", v)
	require.NoError(t, s.Close())

	s, err = Open(Config{Root: root, ReadOnly: true})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, FormatNative, s.Format())

	v, ok = s.Attribute("master_index")
	require.True(t, ok)
	require.Equal(t, "legacy", v)

	require.ErrorIs(t, s.SetAttribute("master_index", "versioned"), common.ErrReadOnly)
}
