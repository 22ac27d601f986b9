// Package masterindex implements the table of per-archive checksums and
// versions stored in the meta archive.
//
// The legacy format holds the CRC-32 and the version of every archive
// manifest. The versioned format additionally lists per-group checksums,
// versions and sizes and a Whirlpool digest of the manifest, so a client can
// tell which groups of an archive went stale without fetching the manifest.
package masterindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"slices"
	"sort"

	"github.com/jzelinskie/whirlpool"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/manifest"
)

// Format of the encoded master index.
type Format uint8

const (
	// FormatLegacy stores a checksum and a version per archive.
	FormatLegacy Format = iota
	// FormatVersioned also stores per-group entries and digests.
	FormatVersioned
)

const (
	legacyEntrySize = 8

	flagSizes  = 0x01
	flagDigest = 0x02

	maxArchives = 255
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatVersioned:
		return "versioned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParseFormat parses the result of Format.String.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "legacy":
		return FormatLegacy, nil
	case "versioned":
		return FormatVersioned, nil
	}
	return 0, fmt.Errorf("unknown master index format %q", s)
}

// GroupEntry describes a group in the versioned format.
type GroupEntry struct {
	ID       uint32
	Checksum uint32
	Version  uint32
	Size     uint32
}

// Entry describes an archive. A zero entry marks an absent archive.
type Entry struct {
	Checksum uint32
	Version  uint32

	// Groups are sorted by id, versioned format only.
	Groups   []GroupEntry
	HasSizes bool
	// Digest is the Whirlpool digest of the manifest container, versioned
	// format only.
	Digest []byte
}

// IsZero reports whether e describes an absent archive.
func (e *Entry) IsZero() bool {
	return e.Checksum == 0 && e.Version == 0 && len(e.Groups) == 0 && len(e.Digest) == 0
}

// Group returns the entry of the group.
func (e *Entry) Group(id uint32) (GroupEntry, bool) {
	i := sort.Search(len(e.Groups), func(i int) bool { return e.Groups[i].ID >= id })
	if i < len(e.Groups) && e.Groups[i].ID == id {
		return e.Groups[i], true
	}
	return GroupEntry{}, false
}

// MasterIndex lists the archives of a cache. It is not safe for concurrent
// modification.
type MasterIndex struct {
	Format Format
	// Entries are indexed by archive id.
	Entries []Entry
}

// New returns an empty master index.
func New(f Format) *MasterIndex {
	return &MasterIndex{Format: f}
}

// Checksum returns the CRC-32 the master index uses for raw bytes.
func Checksum(raw []byte) uint32 {
	return crc32.ChecksumIEEE(raw)
}

// Digest returns the Whirlpool digest of raw.
func Digest(raw []byte) []byte {
	h := whirlpool.New()
	_, _ = h.Write(raw)
	return h.Sum(nil)
}

// Entry returns the entry of the archive.
func (m *MasterIndex) Entry(archive uint8) (*Entry, bool) {
	if int(archive) >= len(m.Entries) || m.Entries[archive].IsZero() {
		return nil, false
	}
	return &m.Entries[archive], true
}

// Set records the archive with its encoded manifest container and the
// decoded manifest.
func (m *MasterIndex) Set(archive uint8, raw []byte, idx *manifest.Index) error {
	if archive >= maxArchives {
		return common.Errorf(common.ErrOutOfRange, "archive %d", archive)
	}

	e := Entry{
		Checksum: Checksum(raw),
		Version:  idx.Version,
	}

	if m.Format == FormatVersioned {
		e.HasSizes = true
		e.Digest = Digest(raw)
		e.Groups = make([]GroupEntry, len(idx.Groups))
		for i, g := range idx.Groups {
			e.Groups[i] = GroupEntry{
				ID:       g.ID,
				Checksum: g.Checksum,
				Version:  g.Version,
				Size:     g.UncompressedLength,
			}
		}
	}

	if int(archive) >= len(m.Entries) {
		m.Entries = append(m.Entries, make([]Entry, int(archive)+1-len(m.Entries))...)
	}
	m.Entries[archive] = e

	return nil
}

// Remove drops the archive.
func (m *MasterIndex) Remove(archive uint8) {
	if int(archive) >= len(m.Entries) {
		return
	}

	m.Entries[archive] = Entry{}
	for len(m.Entries) > 0 && m.Entries[len(m.Entries)-1].IsZero() {
		m.Entries = m.Entries[:len(m.Entries)-1]
	}
}

// Verify reports whether raw is the manifest container recorded for the
// archive.
func (m *MasterIndex) Verify(archive uint8, raw []byte) bool {
	e, ok := m.Entry(archive)
	if !ok || Checksum(raw) != e.Checksum {
		return false
	}

	if m.Format == FormatVersioned && len(e.Digest) != 0 {
		return bytes.Equal(Digest(raw), e.Digest)
	}

	return true
}

// VerifyGroup reports whether raw, the stored group container without the
// version trailer, is the one recorded for the group. It always fails for
// the legacy format, which has no per-group entries.
func (m *MasterIndex) VerifyGroup(archive uint8, group uint32, raw []byte) bool {
	e, ok := m.Entry(archive)
	if !ok {
		return false
	}

	g, ok := e.Group(group)
	return ok && g.Checksum == Checksum(raw)
}

// Stale reports whether a copy of the group with the given checksum and
// version differs from the recorded one. Without per-group entries every
// copy is considered stale.
func (m *MasterIndex) Stale(archive uint8, group uint32, checksum uint32, version uint32) bool {
	e, ok := m.Entry(archive)
	if !ok {
		return true
	}

	g, ok := e.Group(group)
	return !ok || g.Checksum != checksum || g.Version != version
}

// Changed returns archives whose checksum or version differ between m and
// remote, including archives present in only one of them.
func (m *MasterIndex) Changed(remote *MasterIndex) []uint8 {
	var res []uint8

	for i := range max(len(m.Entries), len(remote.Entries)) {
		var local, other Entry
		if i < len(m.Entries) {
			local = m.Entries[i]
		}
		if i < len(remote.Entries) {
			other = remote.Entries[i]
		}

		if local.Checksum != other.Checksum || local.Version != other.Version {
			res = append(res, uint8(i))
		}
	}

	return res
}

// StaleGroups returns groups of the archive that are listed by remote with a
// different checksum or version than locally. The boolean is false if either
// index has no per-group entries for the archive, then the whole archive has
// to be treated as stale.
func (m *MasterIndex) StaleGroups(archive uint8, remote *MasterIndex) ([]uint32, bool) {
	if m.Format != FormatVersioned || remote.Format != FormatVersioned {
		return nil, false
	}

	other, ok := remote.Entry(archive)
	if !ok {
		return nil, true
	}

	local, _ := m.Entry(archive)

	var res []uint32
	for _, g := range other.Groups {
		if local == nil {
			res = append(res, g.ID)
			continue
		}

		l, ok := local.Group(g.ID)
		if !ok || l.Checksum != g.Checksum || l.Version != g.Version {
			res = append(res, g.ID)
		}
	}

	return res, true
}

// ChecksumTable returns the legacy checksum table of the archives.
func (m *MasterIndex) ChecksumTable() ChecksumTable {
	t := make(ChecksumTable, len(m.Entries))
	for i := range m.Entries {
		t[i] = m.Entries[i].Checksum
	}
	return t
}

// Marshal encodes the master index in its format.
func (m *MasterIndex) Marshal() ([]byte, error) {
	switch m.Format {
	case FormatLegacy:
		b := make([]byte, 0, len(m.Entries)*legacyEntrySize)
		for _, e := range m.Entries {
			b = binary.BigEndian.AppendUint32(b, e.Checksum)
			b = binary.BigEndian.AppendUint32(b, e.Version)
		}
		return b, nil
	case FormatVersioned:
		return m.marshalVersioned()
	default:
		return nil, fmt.Errorf("unknown master index format %d", m.Format)
	}
}

func (m *MasterIndex) marshalVersioned() ([]byte, error) {
	if len(m.Entries) > maxArchives {
		return nil, common.Errorf(common.ErrOutOfRange, "%d archives", len(m.Entries))
	}

	b := []byte{uint8(len(m.Entries))}

	for _, e := range m.Entries {
		if uint64(len(e.Groups)) > math.MaxUint32 {
			return nil, fmt.Errorf("too many groups: %d", len(e.Groups))
		}

		b = binary.BigEndian.AppendUint32(b, e.Checksum)
		b = binary.BigEndian.AppendUint32(b, e.Version)
		b = binary.BigEndian.AppendUint32(b, uint32(len(e.Groups)))

		var flags uint8
		if e.HasSizes {
			flags |= flagSizes
		}
		switch len(e.Digest) {
		case 0:
		case manifest.DigestSize:
			flags |= flagDigest
		default:
			return nil, fmt.Errorf("invalid digest length %d", len(e.Digest))
		}
		b = append(b, flags)

		var prev uint32
		for i, g := range e.Groups {
			if i > 0 && g.ID <= prev {
				return nil, fmt.Errorf("groups are not sorted at %d", i)
			}
			b = binary.BigEndian.AppendUint32(b, g.ID-prev)
			prev = g.ID
		}
		for _, g := range e.Groups {
			b = binary.BigEndian.AppendUint32(b, g.Checksum)
		}
		for _, g := range e.Groups {
			b = binary.BigEndian.AppendUint32(b, g.Version)
		}
		if e.HasSizes {
			for _, g := range e.Groups {
				b = binary.BigEndian.AppendUint32(b, g.Size)
			}
		}

		b = append(b, e.Digest...)
	}

	return b, nil
}

// Unmarshal decodes a master index of the given format.
func Unmarshal(b []byte, f Format) (*MasterIndex, error) {
	switch f {
	case FormatLegacy:
		if len(b)%legacyEntrySize != 0 || len(b)/legacyEntrySize > maxArchives {
			return nil, common.Errorf(common.ErrInvalidManifest, "invalid legacy master index length %d", len(b))
		}

		m := &MasterIndex{Format: f, Entries: make([]Entry, len(b)/legacyEntrySize)}
		for i := range m.Entries {
			m.Entries[i].Checksum = binary.BigEndian.Uint32(b[i*legacyEntrySize:])
			m.Entries[i].Version = binary.BigEndian.Uint32(b[i*legacyEntrySize+4:])
		}
		return m, nil
	case FormatVersioned:
		return unmarshalVersioned(b)
	default:
		return nil, fmt.Errorf("unknown master index format %d", f)
	}
}

func unmarshalVersioned(b []byte) (*MasterIndex, error) {
	if len(b) == 0 {
		return nil, common.Errorf(common.ErrInvalidManifest, "missing archive count")
	}

	var (
		n   = int(b[0])
		off = 1
		m   = &MasterIndex{Format: FormatVersioned, Entries: make([]Entry, n)}
	)

	u32 := func() (uint32, error) {
		if len(b)-off < 4 {
			return 0, common.Errorf(common.ErrInvalidManifest, "unexpected end of data at offset %d", off)
		}
		v := binary.BigEndian.Uint32(b[off:])
		off += 4
		return v, nil
	}

	for i := range m.Entries {
		e := &m.Entries[i]

		if len(b)-off < 13 {
			return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: unexpected end of data", i)
		}
		e.Checksum, _ = u32()
		e.Version, _ = u32()
		count, _ := u32()
		flags := b[off]
		off++

		if flags&^(flagSizes|flagDigest) != 0 {
			return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: unknown flags %#x", i, flags)
		}
		e.HasSizes = flags&flagSizes != 0

		perGroup := 12
		if e.HasSizes {
			perGroup += 4
		}
		if uint64(count)*uint64(perGroup) > uint64(len(b)-off) {
			return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: %d groups do not fit", i, count)
		}

		e.Groups = make([]GroupEntry, count)

		var id uint32
		for j := range e.Groups {
			delta, _ := u32()
			if j > 0 && delta == 0 {
				return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: duplicate group %d", i, id)
			}
			id += delta
			if id < delta {
				return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: group id overflow", i)
			}
			e.Groups[j].ID = id
		}
		for j := range e.Groups {
			e.Groups[j].Checksum, _ = u32()
		}
		for j := range e.Groups {
			e.Groups[j].Version, _ = u32()
		}
		if e.HasSizes {
			for j := range e.Groups {
				e.Groups[j].Size, _ = u32()
			}
		}

		if flags&flagDigest != 0 {
			if len(b)-off < manifest.DigestSize {
				return nil, common.Errorf(common.ErrInvalidManifest, "archive %d: truncated digest", i)
			}
			e.Digest = slices.Clone(b[off : off+manifest.DigestSize])
			off += manifest.DigestSize
		}
	}

	if off != len(b) {
		return nil, common.Errorf(common.ErrInvalidManifest, "%d trailing bytes", len(b)-off)
	}

	return m, nil
}
