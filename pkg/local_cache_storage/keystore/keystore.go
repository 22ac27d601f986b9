// Package keystore provides XTEA keys of encrypted groups.
package keystore

import (
	"sync"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
)

// Provider returns the key a group is encrypted with. Unencrypted groups
// have xtea.ZeroKey.
type Provider interface {
	Key(archive uint8, group uint32) (xtea.Key, error)
}

type address struct {
	archive uint8
	group   uint32
}

// Memory is an in-memory Provider. It is safe for concurrent use.
type Memory struct {
	mtx  sync.RWMutex
	keys map[address]xtea.Key
}

// NewMemory returns an empty in-memory key store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[address]xtea.Key)}
}

// Key implements Provider.
func (m *Memory) Key(archive uint8, group uint32) (xtea.Key, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.keys[address{archive, group}], nil
}

// Put sets the key of the group. Putting the zero key deletes it.
func (m *Memory) Put(archive uint8, group uint32, key xtea.Key) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if key.IsZero() {
		delete(m.keys, address{archive, group})
		return
	}
	m.keys[address{archive, group}] = key
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return len(m.keys)
}
