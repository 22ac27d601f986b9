package keystore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testKey = xtea.Key{1, 2, 3, 0xFFFFFFFF}

func TestMemory(t *testing.T) {
	m := NewMemory()

	key, err := m.Key(5, 1)
	require.NoError(t, err)
	require.True(t, key.IsZero())

	m.Put(5, 1, testKey)
	key, err = m.Key(5, 1)
	require.NoError(t, err)
	require.Equal(t, testKey, key)
	require.Equal(t, 1, m.Len())

	m.Put(5, 1, xtea.ZeroKey)
	require.Zero(t, m.Len())
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "keys.db")

	b := New(WithPath(path), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, b.Open())

	require.NoError(t, b.Put(5, 1, testKey))
	require.NoError(t, b.Put(5, 70_000, xtea.Key{9, 9, 9, 9}))
	require.NoError(t, b.Put(2, 3, xtea.Key{1, 1, 1, 1}))
	require.NoError(t, b.Put(2, 3, xtea.ZeroKey))
	require.NoError(t, b.Close())

	b = New(WithPath(path), WithReadOnly(true))
	require.NoError(t, b.Open())
	defer b.Close()

	key, err := b.Key(5, 1)
	require.NoError(t, err)
	require.Equal(t, testKey, key)

	key, err = b.Key(2, 3)
	require.NoError(t, err)
	require.True(t, key.IsZero())

	var groups []uint32
	require.NoError(t, b.Iterate(func(archive uint8, group uint32, _ xtea.Key) error {
		require.EqualValues(t, 5, archive)
		groups = append(groups, group)
		return nil
	}))
	require.Equal(t, []uint32{1, 70_000}, groups)

	stop := errors.New("stop")
	require.ErrorIs(t, b.Iterate(func(uint8, uint32, xtea.Key) error { return stop }), stop)

	var _ Provider = b
	var _ Provider = NewMemory()
}
