package manifest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

// reader is a big-endian cursor over a byte slice. The first failure is
// kept and all further reads return zeros.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = common.Errorf(common.ErrInvalidManifest, "unexpected end of data at offset %d", r.off)
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) remaining() int {
	return len(r.b) - r.off
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// smart reads a 2-byte value if its top bit is clear and a 4-byte value
// with the top bit masked otherwise.
func (r *reader) smart() uint32 {
	if r.err != nil {
		return 0
	}
	if r.remaining() > 0 && r.b[r.off]&0x80 != 0 {
		return r.u32() & math.MaxInt32
	}
	return uint32(r.u16())
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = common.Errorf(common.ErrInvalidManifest, format, args...)
	}
}

type writer struct {
	b   []byte
	err error
}

func (w *writer) u8(v uint8) {
	w.b = append(w.b, v)
}

func (w *writer) u16(v uint16) {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
}

func (w *writer) u32(v uint32) {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
}

func (w *writer) smart(v uint32) {
	switch {
	case v < 0x8000:
		w.u16(uint16(v))
	case v <= math.MaxInt32:
		w.u32(v | 0x80000000)
	default:
		w.fail("value %d does not fit a smart integer", v)
	}
}

func (w *writer) short(v uint32) {
	if v > math.MaxUint16 {
		w.fail("value %d does not fit protocol without smart integers", v)
		return
	}
	w.u16(uint16(v))
}

func (w *writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf(format, args...)
	}
}
