// Package xtea applies the XTEA block cipher to container payloads.
//
// Keys are four 32-bit words. Data is processed as a sequence of big-endian
// 8-byte blocks; a trailing partial block is left as is. The all-zero key
// means "not encrypted" and makes every operation a no-op.
package xtea

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// BlockSize is the XTEA block size in bytes.
const BlockSize = xtea.BlockSize

// Key is an XTEA key.
type Key [4]uint32

// ZeroKey is the key of unencrypted groups.
var ZeroKey Key

// IsZero checks whether the key disables encryption.
func (k Key) IsZero() bool {
	return k == ZeroKey
}

// String returns 32 lowercase hex characters.
func (k Key) String() string {
	b := k.bytes()
	return hex.EncodeToString(b[:])
}

// ParseKey decodes a key produced by String.
func ParseKey(s string) (Key, error) {
	var k Key

	if len(s) != 2*4*4 {
		return k, fmt.Errorf("invalid key length %d", len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}

	for i := range k {
		k[i] = binary.BigEndian.Uint32(b[4*i:])
	}

	return k, nil
}

func (k Key) bytes() [16]byte {
	var b [16]byte
	for i := range k {
		binary.BigEndian.PutUint32(b[4*i:], k[i])
	}
	return b
}

func (k Key) cipher() *xtea.Cipher {
	b := k.bytes()

	c, err := xtea.NewCipher(b[:])
	if err != nil {
		// key length is fixed
		panic(err)
	}

	return c
}

// Encrypt encrypts all whole blocks of buf in place.
func Encrypt(buf []byte, key Key) {
	if key.IsZero() {
		return
	}

	c := key.cipher()
	for i := 0; i+BlockSize <= len(buf); i += BlockSize {
		c.Encrypt(buf[i:i+BlockSize], buf[i:i+BlockSize])
	}
}

// Decrypt decrypts all whole blocks of buf in place.
func Decrypt(buf []byte, key Key) {
	if key.IsZero() {
		return
	}

	c := key.cipher()
	for i := 0; i+BlockSize <= len(buf); i += BlockSize {
		c.Decrypt(buf[i:i+BlockSize], buf[i:i+BlockSize])
	}
}
