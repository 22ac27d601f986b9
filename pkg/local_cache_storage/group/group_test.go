package group

import (
	"bytes"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/stretchr/testify/require"
)

func TestJoinLayout(t *testing.T) {
	out, err := Join([][]byte{[]byte("AB"), []byte("CDE")})
	require.NoError(t, err)
	require.Equal(t, []byte{
		'A', 'B', 'C', 'D', 'E',
		0, 0, 0, 2,
		0, 0, 0, 1,
		1,
	}, out)

	files, err := Split(out, 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("AB"), []byte("CDE")}, files)
}

func TestRoundTrip(t *testing.T) {
	for _, files := range [][][]byte{
		{{}},
		{[]byte("single")},
		{{}, {}},
		{{}, {}, {}},
		{[]byte("long file"), {}, []byte("x")},
		{bytes.Repeat([]byte{7}, 1000), []byte("short"), bytes.Repeat([]byte{9}, 3000)},
	} {
		joined, err := Join(files)
		require.NoError(t, err)

		actual, err := Split(joined, len(files))
		require.NoError(t, err)
		require.Len(t, actual, len(files))
		for i := range files {
			require.True(t, bytes.Equal(files[i], actual[i]), "file %d", i)
		}
	}
}

func TestSingleFileIsRaw(t *testing.T) {
	data := []byte{1, 2, 3, 4}

	out, err := Join([][]byte{data})
	require.NoError(t, err)
	require.Equal(t, data, out)

	out[0] = 42
	require.EqualValues(t, 1, data[0])
}

func TestEmptyFiles(t *testing.T) {
	out, err := Join([][]byte{{}, {}})
	require.NoError(t, err)
	require.Equal(t, []byte{0}, out)
}

func TestMultipleStripes(t *testing.T) {
	// file 0 = "ab" + "c", file 1 = "XYZ" + "W"
	data := []byte{
		'a', 'b', 'X', 'Y', 'Z',
		'c', 'W',
		0, 0, 0, 2, 0, 0, 0, 1,
		0, 0, 0, 1, 0, 0, 0, 0,
		2,
	}

	files, err := Split(data, 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc"), []byte("XYZW")}, files)
}

func TestSplitInvalid(t *testing.T) {
	for name, tc := range map[string]struct {
		data  []byte
		files int
	}{
		"no files":         {[]byte{0}, 0},
		"empty":            {nil, 2},
		"trailer too long": {[]byte{0, 0, 0, 1, 2}, 2},
		"negative length":  {[]byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 1}, 2},
		"short data":       {[]byte{'A', 0, 0, 0, 2, 0, 0, 0, 0, 1}, 2},
		"long data":        {[]byte{'A', 'B', 'C', 0, 0, 0, 2, 0, 0, 0, 0, 1}, 2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Split(tc.data, tc.files)
			require.ErrorIs(t, err, common.ErrInvalidGroupFraming)
		})
	}

	_, err := Join(nil)
	require.ErrorIs(t, err, common.ErrInvalidGroupFraming)
}
