package sectorstore

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

// Format selects the sector layout of the data file.
type Format uint8

const (
	// FormatNative is the layout produced by the client: 520-byte sectors
	// with the short header for groups up to 65535 and the long header
	// (and 510 bytes of payload) for larger groups.
	FormatNative Format = iota
	// FormatLegacy uses 520-byte sectors with the short header only, so
	// group ids are limited to 16 bits.
	FormatLegacy
	// FormatExtended uses 522-byte sectors with the long header for every
	// group.
	FormatExtended
)

const (
	shortHeaderSize = 8
	longHeaderSize  = 10

	payloadSize = 512

	maxShortGroup = 1<<16 - 1
	maxLongGroup  = 1<<31 - 1
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatNative:
		return "native"
	case FormatLegacy:
		return "legacy"
	case FormatExtended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParseFormat parses the result of Format.String.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{FormatNative, FormatLegacy, FormatExtended} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sector format %q", s)
}

// SectorSize returns the size of a single sector in the data file.
func (f Format) SectorSize() int {
	if f == FormatExtended {
		return longHeaderSize + payloadSize
	}
	return shortHeaderSize + payloadSize
}

// geometry describes sectors of a particular group.
type geometry struct {
	long    bool
	header  int
	payload int
}

func (f Format) geometry(group uint32) (geometry, error) {
	switch f {
	case FormatNative:
		if group <= maxShortGroup {
			return geometry{header: shortHeaderSize, payload: payloadSize}, nil
		}
		if group <= maxLongGroup {
			return geometry{long: true, header: longHeaderSize, payload: payloadSize - (longHeaderSize - shortHeaderSize)}, nil
		}
	case FormatLegacy:
		if group <= maxShortGroup {
			return geometry{header: shortHeaderSize, payload: payloadSize}, nil
		}
	case FormatExtended:
		if group <= maxLongGroup {
			return geometry{long: true, header: longHeaderSize, payload: payloadSize}, nil
		}
	default:
		return geometry{}, fmt.Errorf("unknown sector format %d", f)
	}
	return geometry{}, common.Errorf(common.ErrOutOfRange, "group %d is not supported by %s sectors", group, f)
}

// SectorCount returns the number of sectors a group of the given length
// occupies. Empty groups still take a sector.
func (f Format) SectorCount(group uint32, length int) (int, error) {
	g, err := f.geometry(group)
	if err != nil {
		return 0, err
	}
	return g.sectors(length), nil
}

func (g geometry) sectors(length int) int {
	return max(1, (length+g.payload-1)/g.payload)
}

type sectorHeader struct {
	group   uint32
	chunk   uint16
	next    uint32
	archive uint8
}

func (g geometry) marshalHeader(b []byte, h sectorHeader) {
	off := 2
	if g.long {
		b[0] = byte(h.group >> 24)
		b[1] = byte(h.group >> 16)
		off = 4
	}
	b[off-2] = byte(h.group >> 8)
	b[off-1] = byte(h.group)
	b[off] = byte(h.chunk >> 8)
	b[off+1] = byte(h.chunk)
	b[off+2] = byte(h.next >> 16)
	b[off+3] = byte(h.next >> 8)
	b[off+4] = byte(h.next)
	b[off+5] = h.archive
}

func (g geometry) unmarshalHeader(b []byte) sectorHeader {
	var h sectorHeader

	off := 2
	if g.long {
		h.group = uint32(b[0])<<24 | uint32(b[1])<<16
		off = 4
	}
	h.group |= uint32(b[off-2])<<8 | uint32(b[off-1])
	h.chunk = uint16(b[off])<<8 | uint16(b[off+1])
	h.next = uint32(b[off+2])<<16 | uint32(b[off+3])<<8 | uint32(b[off+4])
	h.archive = b[off+5]

	return h
}
