package xtea

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var testVectors = []struct {
	key, plaintext, ciphertext string
}{
	{"00000000000000000000000000000000", "", ""},
	{"000102030405060708090a0b0c0d0e0f", "4142434445464748", "497df3d072612cb5"},
	{"000102030405060708090a0b0c0d0e0f", "4141414141414141", "e78f2d13744341d8"},
	{"000102030405060708090a0b0c0d0e0f", "5a5b6e278948d77f", "4141414141414141"},
	// the zero key disables encryption entirely
	{"00000000000000000000000000000000", "4142434445464748", "4142434445464748"},
}

func decodeHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestVectors(t *testing.T) {
	for _, v := range testVectors {
		key, err := ParseKey(v.key)
		require.NoError(t, err)

		plain := decodeHex(t, v.plaintext)
		cipher := decodeHex(t, v.ciphertext)

		for j := 0; j < BlockSize; j++ {
			trailer := bytes.Repeat([]byte{0xAA}, j)

			buf := append(append([]byte{}, plain...), trailer...)
			Encrypt(buf, key)
			require.Equal(t, append(append([]byte{}, cipher...), trailer...), buf)

			Decrypt(buf, key)
			require.Equal(t, append(append([]byte{}, plain...), trailer...), buf)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 64; i++ {
		key := Key{r.Uint32(), r.Uint32(), r.Uint32(), r.Uint32()}
		data := make([]byte, r.Intn(100))
		r.Read(data)

		buf := bytes.Clone(data)
		Encrypt(buf, key)
		if len(data) >= BlockSize {
			require.NotEqual(t, data, buf)
		}
		// partial block is untouched
		tail := len(data) % BlockSize
		require.Equal(t, data[len(data)-tail:], buf[len(buf)-tail:])

		Decrypt(buf, key)
		require.Equal(t, data, buf)
	}
}

func TestZeroKey(t *testing.T) {
	data := []byte("0123456789abcdefXYZ")
	buf := bytes.Clone(data)

	require.True(t, ZeroKey.IsZero())
	Encrypt(buf, ZeroKey)
	require.Equal(t, data, buf)
	Decrypt(buf, ZeroKey)
	require.Equal(t, data, buf)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	require.Equal(t, Key{0x00010203, 0x04050607, 0x08090a0b, 0x0c0d0e0f}, k)
	require.Equal(t, "000102030405060708090a0b0c0d0e0f", k.String())

	_, err = ParseKey("0001")
	require.Error(t, err)

	_, err = ParseKey("zz0102030405060708090a0b0c0d0e0f")
	require.Error(t, err)
}
