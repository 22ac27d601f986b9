// Package container implements the envelope every stored group is wrapped
// in:
//
//	[u8 compression][u32 compressed length]{[u32 decompressed length]}[payload][u16 version]?
//
// The decompressed length is present for every compression type except
// compression.None. The version trailer is optional and is recognized by the
// bytes left after the payload. With a non-zero XTEA key everything after the
// first five bytes, except the version trailer, is encrypted.
package container

import (
	"encoding/binary"
	"math"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/compression"
)

const (
	// HeaderLen is the length of the unencrypted container header.
	HeaderLen = 5
	// VersionLen is the length of the optional version trailer.
	VersionLen = 2

	decompressedLenLen = 4
)

// Container is a decoded container.
type Container struct {
	Compression compression.Type
	// Data holds decrypted and decompressed payload.
	Data []byte
	// Version is the truncated group version from the trailer. It is valid
	// only if HasVersion is set.
	Version    uint16
	HasVersion bool
}

// Encode wraps data into a container compressed with typ and encrypted with
// key.
func Encode(data []byte, typ compression.Type, key xtea.Key) ([]byte, error) {
	if err := typ.Valid(); err != nil {
		return nil, err
	}
	if uint64(len(data)) > math.MaxInt32 {
		return nil, common.Errorf(common.ErrOutOfRange, "group of %d bytes is too large", len(data))
	}

	payload, err := typ.Compress(data)
	if err != nil {
		return nil, err
	}

	bodyLen := len(payload)
	if typ != compression.None {
		bodyLen += decompressedLenLen
	}

	out := make([]byte, HeaderLen, HeaderLen+bodyLen+VersionLen)
	out[0] = byte(typ)
	binary.BigEndian.PutUint32(out[1:], uint32(len(payload)))
	if typ != compression.None {
		out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	}
	out = append(out, payload...)

	xtea.Encrypt(out[HeaderLen:], key)

	return out, nil
}

// EncodeBest encodes data both uncompressed and with typ and returns the
// shorter container. On a tie the uncompressed one wins.
func EncodeBest(data []byte, typ compression.Type, key xtea.Key) ([]byte, error) {
	best, err := Encode(data, compression.None, key)
	if err != nil || typ == compression.None {
		return best, err
	}

	compressed, err := Encode(data, typ, key)
	if err != nil {
		return nil, err
	}

	if len(compressed) < len(best) {
		return compressed, nil
	}
	return best, nil
}

// AppendVersion appends the version trailer to an encoded container.
func AppendVersion(raw []byte, version uint16) []byte {
	return binary.BigEndian.AppendUint16(raw, version)
}

// Len returns the length of the container in raw not counting any trailing
// bytes.
func Len(raw []byte) (int, error) {
	if len(raw) < HeaderLen {
		return 0, common.Errorf(common.ErrDecompression, "missing header (%d bytes)", len(raw))
	}

	typ := compression.Type(raw[0])
	if err := typ.Valid(); err != nil {
		return 0, err
	}

	n := binary.BigEndian.Uint32(raw[1:])
	if n > math.MaxInt32 {
		return 0, common.Errorf(common.ErrDecompression, "length is negative: %d", int32(n))
	}

	total := HeaderLen + int(n)
	if typ != compression.None {
		total += decompressedLenLen
	}

	if len(raw) < total {
		return 0, common.Errorf(common.ErrDecompression, "data truncated (%d bytes, expecting %d)", len(raw), total)
	}

	return total, nil
}

// StripVersion splits raw into the container and its version trailer.
func StripVersion(raw []byte) (body []byte, version uint16, ok bool, err error) {
	n, err := Len(raw)
	if err != nil {
		return nil, 0, false, err
	}

	if len(raw)-n >= VersionLen {
		return raw[:n], binary.BigEndian.Uint16(raw[n:]), true, nil
	}
	return raw[:n], 0, false, nil
}

// Decode decrypts and decompresses raw. Decoding errors of an encrypted
// container are reported as common.ErrInvalidKeyOrCorruptData.
func Decode(raw []byte, key xtea.Key) (*Container, error) {
	c, err := decode(raw, key, false)
	if err != nil && !key.IsZero() {
		return nil, common.Wrap(common.ErrInvalidKeyOrCorruptData, err)
	}
	return c, err
}

// DecodeIfKeyValid is like Decode but first inspects the decrypted
// compression header and fails fast with common.ErrInvalidKeyOrCorruptData
// if it cannot have been produced by the encoder. Uncompressed containers
// cannot be checked: they are assumed to be unencrypted, so a non-zero key is
// refused for them.
func DecodeIfKeyValid(raw []byte, key xtea.Key) (*Container, error) {
	c, err := decode(raw, key, true)
	if err != nil {
		return nil, common.Wrap(common.ErrInvalidKeyOrCorruptData, err)
	}
	return c, nil
}

func decode(raw []byte, key xtea.Key, sniff bool) (*Container, error) {
	body, version, hasVersion, err := StripVersion(raw)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Compression: compression.Type(body[0]),
		Version:     version,
		HasVersion:  hasVersion,
	}

	plain := make([]byte, len(body)-HeaderLen)
	copy(plain, body[HeaderLen:])
	xtea.Decrypt(plain, key)

	if c.Compression == compression.None {
		if sniff && !key.IsZero() {
			return nil, common.Errorf(common.ErrDecompression, "uncompressed containers are never encrypted")
		}
		c.Data = plain
		return c, nil
	}

	n := binary.BigEndian.Uint32(plain)
	if n > math.MaxInt32 {
		return nil, common.Errorf(common.ErrDecompression, "decompressed length is negative: %d", int32(n))
	}

	payload := plain[decompressedLenLen:]
	if sniff && !c.Compression.LooksValid(payload) {
		return nil, common.Errorf(common.ErrDecompression, "invalid %s header", c.Compression)
	}

	c.Data, err = c.Compression.Decompress(payload, int(n))
	if err != nil {
		return nil, err
	}

	return c, nil
}
