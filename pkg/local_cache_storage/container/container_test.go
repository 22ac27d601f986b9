package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/compression"
	"github.com/stretchr/testify/require"
)

var testKey = xtea.Key{0x00010203, 0x04050607, 0x08090A0B, 0x0C0D0E0F}

func TestEncodeUncompressed(t *testing.T) {
	raw, err := Encode([]byte("hello"), compression.None, xtea.ZeroKey)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, raw)

	c, err := Decode(raw, xtea.ZeroKey)
	require.NoError(t, err)
	require.Equal(t, compression.None, c.Compression)
	require.Equal(t, []byte("hello"), c.Data)
	require.False(t, c.HasVersion)
}

func TestRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("OpenRS2 "), 1000)

	for _, typ := range compression.Types {
		for _, key := range []xtea.Key{xtea.ZeroKey, testKey} {
			t.Run(typ.String()+"/"+key.String(), func(t *testing.T) {
				raw, err := Encode(data, typ, key)
				require.NoError(t, err)
				require.Equal(t, byte(typ), raw[0])

				if typ != compression.None {
					require.EqualValues(t, len(raw)-HeaderLen-4, binary.BigEndian.Uint32(raw[1:]))
				}

				c, err := Decode(raw, key)
				require.NoError(t, err)
				require.Equal(t, typ, c.Compression)
				require.True(t, bytes.Equal(data, c.Data))

				c, err = DecodeIfKeyValid(raw, key)
				if typ == compression.None && !key.IsZero() {
					require.ErrorIs(t, err, common.ErrInvalidKeyOrCorruptData)
					return
				}
				require.NoError(t, err)
				require.True(t, bytes.Equal(data, c.Data))
			})
		}
	}
}

func TestRoundTripSizes(t *testing.T) {
	for _, typ := range compression.Types {
		for _, size := range []int{0, 1, 7, 8, 9, 4096} {
			data := bytes.Repeat([]byte{0xA5}, size)

			for _, key := range []xtea.Key{xtea.ZeroKey, testKey} {
				raw, err := Encode(data, typ, key)
				require.NoError(t, err, "%s/%d", typ, size)

				c, err := Decode(raw, key)
				require.NoError(t, err, "%s/%d", typ, size)
				require.Len(t, c.Data, size)
				require.True(t, bytes.Equal(data, c.Data))
			}
		}
	}
}

func TestEncryptedHeaderIsPlain(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3}, 100)

	plain, err := Encode(data, compression.Gzip, xtea.ZeroKey)
	require.NoError(t, err)
	enc, err := Encode(data, compression.Gzip, testKey)
	require.NoError(t, err)

	require.Equal(t, len(plain), len(enc))
	require.Equal(t, plain[:HeaderLen], enc[:HeaderLen])
	require.NotEqual(t, plain[HeaderLen:HeaderLen+8], enc[HeaderLen:HeaderLen+8])
}

func TestWrongKey(t *testing.T) {
	data := bytes.Repeat([]byte("secret"), 500)

	for _, typ := range []compression.Type{compression.Bzip2, compression.Gzip, compression.Lzma} {
		t.Run(typ.String(), func(t *testing.T) {
			raw, err := Encode(data, typ, testKey)
			require.NoError(t, err)

			wrong := testKey
			wrong[3]++

			_, err = Decode(raw, wrong)
			require.ErrorIs(t, err, common.ErrInvalidKeyOrCorruptData)

			_, err = DecodeIfKeyValid(raw, wrong)
			require.ErrorIs(t, err, common.ErrInvalidKeyOrCorruptData)

			_, err = Decode(raw, xtea.ZeroKey)
			require.Error(t, err)
			require.False(t, errors.Is(err, common.ErrInvalidKeyOrCorruptData))
		})
	}
}

func TestEncodeBest(t *testing.T) {
	t.Run("compressible", func(t *testing.T) {
		raw, err := EncodeBest(make([]byte, 4096), compression.Gzip, xtea.ZeroKey)
		require.NoError(t, err)
		require.Equal(t, byte(compression.Gzip), raw[0])
	})

	t.Run("tiny", func(t *testing.T) {
		raw, err := EncodeBest([]byte{42}, compression.Lzma, xtea.ZeroKey)
		require.NoError(t, err)
		require.Equal(t, byte(compression.None), raw[0])
	})

	t.Run("none", func(t *testing.T) {
		raw, err := EncodeBest(make([]byte, 4096), compression.None, xtea.ZeroKey)
		require.NoError(t, err)
		require.Equal(t, byte(compression.None), raw[0])
	})
}

func TestVersionTrailer(t *testing.T) {
	raw, err := Encode([]byte("versioned"), compression.Bzip2, testKey)
	require.NoError(t, err)

	n := len(raw)
	raw = AppendVersion(raw, 0xBEEF)
	require.Len(t, raw, n+VersionLen)

	l, err := Len(raw)
	require.NoError(t, err)
	require.Equal(t, n, l)

	body, version, ok, err := StripVersion(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0xBEEF, version)
	require.Len(t, body, n)

	c, err := Decode(raw, testKey)
	require.NoError(t, err)
	require.True(t, c.HasVersion)
	require.EqualValues(t, 0xBEEF, c.Version)
	require.Equal(t, []byte("versioned"), c.Data)
}

func TestDecodeMalformed(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":           nil,
		"short header":    {0, 0, 0},
		"unknown type":    {9, 0, 0, 0, 0},
		"negative length": {0, 0x80, 0, 0, 0},
		"truncated":       {0, 0, 0, 0, 10, 1, 2, 3},
		"no ulen":         {2, 0, 0, 0, 0},
		"bad gzip":        {2, 0, 0, 0, 2, 0, 0, 0, 5, 1, 2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw, xtea.ZeroKey)
			require.ErrorIs(t, err, common.ErrDecompression)
		})
	}
}
