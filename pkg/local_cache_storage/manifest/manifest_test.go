package manifest

import (
	"bytes"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/stretchr/testify/require"
)

func testIndex(p Protocol) *Index {
	x := New(p)
	x.Version = 0x01020304
	x.HasNames = true
	x.HasDigests = true
	x.HasLengths = true
	x.HasUncompressedChecksums = true

	x.Put(Group{
		ID:                   1,
		NameHash:             NameHash("hello"),
		Version:              7,
		Checksum:             0xDEADBEEF,
		UncompressedChecksum: 0xCAFEBABE,
		Length:               100,
		UncompressedLength:   300,
		Digest:               bytes.Repeat([]byte{0xAB}, DigestSize),
		Files:                []File{{ID: 0, NameHash: NameHash("a")}, {ID: 3, NameHash: -1}},
	})
	x.Put(Group{
		ID:       70_000,
		NameHash: -1,
		Files:    []File{{ID: 40_000, NameHash: 5}},
	})

	return x
}

func TestRoundTrip(t *testing.T) {
	x := testIndex(ProtocolSmart)

	b, err := x.Marshal()
	require.NoError(t, err)

	actual, err := Unmarshal(b)
	require.NoError(t, err)

	// zero digests are decoded as explicit zeros
	x.Groups[1].Digest = make([]byte, DigestSize)
	require.Equal(t, x, actual)
}

func TestOriginalProtocol(t *testing.T) {
	x := New(ProtocolOriginal)
	x.Version = 5

	b, err := x.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{5, 0, 0, 0}, b)

	actual, err := Unmarshal(b)
	require.NoError(t, err)
	require.Zero(t, actual.Version)
	require.Empty(t, actual.Groups)

	_, err = testIndex(ProtocolOriginal).Marshal()
	require.Error(t, err)
}

func TestVersionedLayout(t *testing.T) {
	x := New(ProtocolVersioned)
	x.Version = 2
	x.Put(Group{ID: 10, Checksum: 0x11223344, Version: 9, Files: []File{{ID: 0}, {ID: 1}}})
	x.Put(Group{ID: 3, Checksum: 1, Version: 1, Files: []File{{ID: 0}}})

	b, err := x.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{
		6, 0, 0, 0, 2, 0,
		0, 2, // groups
		0, 3, 0, 7, // id deltas
		0, 0, 0, 1, 0x11, 0x22, 0x33, 0x44, // checksums
		0, 0, 0, 1, 0, 0, 0, 9, // versions
		0, 1, 0, 2, // file counts
		0, 0, // group 3
		0, 0, 0, 1, // group 10
	}, b)
}

func TestSmartIntegers(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7FFF, 0x8000, 0x12345678, 0x7FFFFFFF} {
		w := new(writer)
		w.smart(v)
		require.NoError(t, w.err)

		if v < 0x8000 {
			require.Len(t, w.b, 2)
		} else {
			require.Len(t, w.b, 4)
			require.NotZero(t, w.b[0]&0x80)
		}

		r := &reader{b: w.b}
		require.Equal(t, v, r.smart())
		require.NoError(t, r.err)
	}

	w := new(writer)
	w.smart(0x80000000)
	require.Error(t, w.err)
}

func TestGroupOperations(t *testing.T) {
	x := testIndex(ProtocolSmart)
	require.Equal(t, []uint32{1, 70_000}, x.GroupIDs())

	g, ok := x.Group(1)
	require.True(t, ok)
	require.Equal(t, []uint32{0, 3}, g.FileIDs())

	pos, ok := g.FilePosition(3)
	require.True(t, ok)
	require.Equal(t, 1, pos)

	_, ok = g.FilePosition(2)
	require.False(t, ok)

	id, ok := g.FileByName(NameHash("a"))
	require.True(t, ok)
	require.Zero(t, id)

	g, ok = x.GroupByName(NameHash("hello"))
	require.True(t, ok)
	require.EqualValues(t, 1, g.ID)

	c := x.Clone()
	c.Groups[0].Files[0].ID = 42

	require.True(t, x.Remove(1))
	require.False(t, x.Remove(1))
	_, ok = x.Group(1)
	require.False(t, ok)

	x.Put(Group{ID: 5})
	require.Equal(t, []uint32{5, 70_000}, x.GroupIDs())

	g, ok = c.Group(1)
	require.True(t, ok)
	require.EqualValues(t, 42, g.Files[0].ID)
}

func TestNameHash(t *testing.T) {
	require.EqualValues(t, 0, NameHash(""))
	require.EqualValues(t, 99162322, NameHash("hello"))
	// '€' is 0x80 in Windows-1252
	require.EqualValues(t, 0x80, NameHash("€"))
	require.EqualValues(t, '?', NameHash("\u4e16"))
}

func TestUnmarshalInvalid(t *testing.T) {
	valid, err := testIndex(ProtocolSmart).Marshal()
	require.NoError(t, err)

	for name, b := range map[string][]byte{
		"empty":           nil,
		"protocol":        {8, 0, 0, 0},
		"truncated":       valid[:len(valid)-1],
		"trailing":        append(append([]byte{}, valid...), 0),
		"too many groups": {5, 0, 0xFF, 0xFF},
		"duplicate group": append([]byte{5, 0, 0, 2, 0, 1, 0, 0}, make([]byte, 20)...),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(b)
			require.ErrorIs(t, err, common.ErrInvalidManifest)
		})
	}
}
