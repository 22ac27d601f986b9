package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/ulikunitz/xz/lzma"
)

// Type is a container compression tag as stored in the first byte of every
// container.
type Type uint8

// Supported compression types. The numeric values are part of the on-disk
// format.
const (
	None Type = iota
	Bzip2
	Gzip
	Lzma
)

const (
	// bzip2 block size in units of 100k, fixed by the client.
	bzip2BlockSize = 1
	// gzip deflate level matching the reference deflater default.
	gzipLevel = 6

	lzmaDictCap = 8 << 20
	// Larger dictionaries are valid LZMA but never produced by the reference
	// encoder; they are refused to bound memory on adversarial input.
	lzmaMaxDictCap = 64 << 20
	lzmaMaxPB      = 4
	// lzmaHeaderLen is the length of the headerless LZMA prefix: properties
	// byte and little-endian dictionary size.
	lzmaHeaderLen = 5

	// maxPrealloc bounds the output buffer allocated up front from a declared
	// (untrusted) decompressed length.
	maxPrealloc = 1 << 24
)

var bzip2Header = []byte{'B', 'Z', 'h', '0' + bzip2BlockSize}

// The stripped stream header is directly followed by either the first block
// or, for empty input, the end of stream marker.
var (
	bzip2BlockMagic = []byte{0x31, 0x41, 0x59, 0x26, 0x53, 0x59}
	bzip2EndMagic   = []byte{0x17, 0x72, 0x45, 0x38, 0x50, 0x90}
)

// Types lists all compression types in tag order.
var Types = []Type{None, Bzip2, Gzip, Lzma}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Bzip2:
		return "bzip2"
	case Gzip:
		return "gzip"
	case Lzma:
		return "lzma"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid returns a nil error iff t is a known compression type.
func (t Type) Valid() error {
	switch t {
	case None, Bzip2, Gzip, Lzma:
		return nil
	}
	return common.Errorf(common.ErrDecompression, "invalid compression type %d", uint8(t))
}

// Parse returns the Type named by s (as returned by String).
func Parse(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown compression type %q", s)
}

// Compress returns the compressed form of data without any container
// framing.
func (t Type) Compress(data []byte) ([]byte, error) {
	switch t {
	case None:
		return bytes.Clone(data), nil
	case Bzip2:
		return compressBzip2(data)
	case Gzip:
		return compressGzip(data)
	case Lzma:
		return compressLzma(data)
	}
	return nil, t.Valid()
}

// Decompress decodes payload and checks that it expands to exactly length
// bytes.
func (t Type) Decompress(payload []byte, length int) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)

	switch t {
	case None:
		if len(payload) != length {
			return nil, common.Errorf(common.ErrDecompression,
				"uncompressed payload is %d bytes, expected %d", len(payload), length)
		}
		return bytes.Clone(payload), nil
	case Bzip2:
		r, err = bzip2.NewReader(io.MultiReader(bytes.NewReader(bzip2Header), bytes.NewReader(payload)), nil)
	case Gzip:
		var zr *gzip.Reader
		zr, err = gzip.NewReader(bytes.NewReader(payload))
		if err == nil {
			zr.Multistream(false)
			r = zr
		}
	case Lzma:
		if length == 0 {
			// the range coder of an empty stream is never read from
			if err = checkLzmaHeader(payload); err != nil {
				return nil, common.Wrap(common.ErrDecompression, err)
			}
			return []byte{}, nil
		}
		r, err = newLzmaReader(payload, length)
	default:
		return nil, t.Valid()
	}
	if err != nil {
		return nil, common.Wrap(common.ErrDecompression, err)
	}

	return readExact(r, length)
}

func readExact(r io.Reader, length int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, min(length, maxPrealloc)))

	_, err := io.CopyN(buf, r, int64(length))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, common.Errorf(common.ErrDecompression,
				"decompressed data truncated (%d bytes, expected %d)", buf.Len(), length)
		}
		return nil, common.Wrap(common.ErrDecompression, err)
	}

	// reading past the declared length also lets the decoders check their
	// trailing checksums
	var one [1]byte
	_, err = io.ReadFull(r, one[:])
	switch {
	case err == nil:
		return nil, common.Errorf(common.ErrDecompression, "decompressed data longer than %d bytes", length)
	case errors.Is(err, io.EOF):
		return buf.Bytes(), nil
	default:
		return nil, common.Wrap(common.ErrDecompression, err)
	}
}

func compressBzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2BlockSize})
	if err != nil {
		return nil, fmt.Errorf("create bzip2 writer: %w", err)
	}
	if _, err = w.Write(data); err != nil {
		return nil, fmt.Errorf("bzip2 write: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 close: %w", err)
	}

	out := buf.Bytes()
	if !bytes.HasPrefix(out, bzip2Header) {
		return nil, errors.New("unexpected bzip2 stream header")
	}

	return out[len(bzip2Header):], nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	// the client writes MTIME and OS as zero, XFL is zero for the default level
	w.ModTime = time.Unix(0, 0)
	w.OS = 0

	if _, err = w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	return buf.Bytes(), nil
}

func compressLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      lzmaDictCap,
		SizeInHeader: true,
		Size:         int64(len(data)),
		EOSMarker:    false,
	}.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create lzma writer: %w", err)
	}
	if _, err = w.Write(data); err != nil {
		return nil, fmt.Errorf("lzma write: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("lzma close: %w", err)
	}

	// classic header: properties, dictionary size, 8-byte uncompressed size;
	// the headerless form drops the size
	out := buf.Bytes()
	if len(out) < lzmaHeaderLen+8 {
		return nil, errors.New("lzma stream shorter than its header")
	}

	return append(out[:lzmaHeaderLen:lzmaHeaderLen], out[lzmaHeaderLen+8:]...), nil
}

func newLzmaReader(payload []byte, length int) (io.Reader, error) {
	if err := checkLzmaHeader(payload); err != nil {
		return nil, err
	}

	hdr := make([]byte, lzmaHeaderLen+8)
	copy(hdr, payload[:lzmaHeaderLen])
	binary.LittleEndian.PutUint64(hdr[lzmaHeaderLen:], uint64(length))

	return lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(payload[lzmaHeaderLen:])))
}

func checkLzmaHeader(payload []byte) error {
	if len(payload) < lzmaHeaderLen {
		return errors.New("lzma header truncated")
	}

	props := payload[0]
	if props >= 9*5*5 || props/(9*5) > lzmaMaxPB {
		return fmt.Errorf("invalid lzma properties %#x", props)
	}

	dictCap := binary.LittleEndian.Uint32(payload[1:lzmaHeaderLen])
	if dictCap > lzmaMaxDictCap {
		return fmt.Errorf("lzma dictionary size %d exceeds %d", dictCap, lzmaMaxDictCap)
	}

	return nil
}

// LooksValid reports whether the first bytes of a decrypted compressed
// payload carry the header the given compression type always produces. It
// is a cheap pre-check used to reject wrong keys without running the
// decompressor.
func (t Type) LooksValid(prefix []byte) bool {
	switch t {
	case None:
		return true
	case Bzip2:
		return bytes.HasPrefix(prefix, bzip2BlockMagic) || bytes.HasPrefix(prefix, bzip2EndMagic)
	case Gzip:
		// only DEFLATE members are produced
		return len(prefix) >= 3 && prefix[0] == 0x1f && prefix[1] == 0x8b && prefix[2] == 8
	case Lzma:
		return checkLzmaHeader(prefix) == nil
	}
	return false
}
