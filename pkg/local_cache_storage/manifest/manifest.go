// Package manifest implements the per-archive index stored in the meta
// archive. It lists the groups of an archive with their versions,
// checksums and file ids.
package manifest

import (
	"fmt"
	"slices"
	"sort"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

// Protocol is the revision of the manifest encoding.
type Protocol uint8

const (
	// ProtocolOriginal encodes ids and counts as 16-bit integers and has no
	// manifest version.
	ProtocolOriginal Protocol = 5
	// ProtocolVersioned adds the manifest version.
	ProtocolVersioned Protocol = 6
	// ProtocolSmart encodes ids and counts as smart integers.
	ProtocolSmart Protocol = 7
)

const (
	flagNames                 = 0x01
	flagDigests               = 0x02
	flagLengths               = 0x04
	flagUncompressedChecksums = 0x08

	// DigestSize is the length of a Whirlpool digest.
	DigestSize = 64
)

// String implements fmt.Stringer.
func (p Protocol) String() string {
	switch p {
	case ProtocolOriginal:
		return "original"
	case ProtocolVersioned:
		return "versioned"
	case ProtocolSmart:
		return "smart"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

func (p Protocol) valid() bool {
	return p >= ProtocolOriginal && p <= ProtocolSmart
}

// File is a file entry of a group.
type File struct {
	ID       uint32
	NameHash int32
}

// Group describes a stored group.
type Group struct {
	ID       uint32
	NameHash int32
	// Version is the full group version. The container stored on disk
	// carries its lower 16 bits.
	Version uint32
	// Checksum is the CRC-32 of the stored container without the version
	// trailer.
	Checksum             uint32
	UncompressedChecksum uint32
	Length               uint32
	UncompressedLength   uint32
	// Digest is the Whirlpool digest of the stored container, nil if
	// unknown.
	Digest []byte
	// Files are sorted by id.
	Files []File
}

// FileIDs returns ids of the group files in storage order.
func (g *Group) FileIDs() []uint32 {
	ids := make([]uint32, len(g.Files))
	for i := range g.Files {
		ids[i] = g.Files[i].ID
	}
	return ids
}

// FilePosition returns the position of the file in the packed group.
func (g *Group) FilePosition(id uint32) (int, bool) {
	i := sort.Search(len(g.Files), func(i int) bool { return g.Files[i].ID >= id })
	return i, i < len(g.Files) && g.Files[i].ID == id
}

// FileByName returns the id of the first file with the given name hash.
func (g *Group) FileByName(hash int32) (uint32, bool) {
	for _, f := range g.Files {
		if f.NameHash == hash {
			return f.ID, true
		}
	}
	return 0, false
}

// Index is the manifest of an archive.
type Index struct {
	Protocol Protocol
	// Version is written by ProtocolVersioned and later.
	Version uint32

	HasNames                 bool
	HasDigests               bool
	HasLengths               bool
	HasUncompressedChecksums bool

	// Groups are sorted by id.
	Groups []Group
}

// New returns an empty manifest of the given protocol.
func New(p Protocol) *Index {
	return &Index{Protocol: p}
}

func (x *Index) search(id uint32) int {
	return sort.Search(len(x.Groups), func(i int) bool { return x.Groups[i].ID >= id })
}

// Group returns the group with the given id.
func (x *Index) Group(id uint32) (*Group, bool) {
	i := x.search(id)
	if i < len(x.Groups) && x.Groups[i].ID == id {
		return &x.Groups[i], true
	}
	return nil, false
}

// GroupByName returns the first group with the given name hash.
func (x *Index) GroupByName(hash int32) (*Group, bool) {
	for i := range x.Groups {
		if x.Groups[i].NameHash == hash {
			return &x.Groups[i], true
		}
	}
	return nil, false
}

// Put inserts the group or replaces the group with the same id.
func (x *Index) Put(g Group) {
	i := x.search(g.ID)
	if i < len(x.Groups) && x.Groups[i].ID == g.ID {
		x.Groups[i] = g
		return
	}
	x.Groups = slices.Insert(x.Groups, i, g)
}

// Remove deletes the group and reports whether it was present.
func (x *Index) Remove(id uint32) bool {
	i := x.search(id)
	if i < len(x.Groups) && x.Groups[i].ID == id {
		x.Groups = slices.Delete(x.Groups, i, i+1)
		return true
	}
	return false
}

// GroupIDs returns ids of all groups in ascending order.
func (x *Index) GroupIDs() []uint32 {
	ids := make([]uint32, len(x.Groups))
	for i := range x.Groups {
		ids[i] = x.Groups[i].ID
	}
	return ids
}

// Clone returns a deep copy of the manifest.
func (x *Index) Clone() *Index {
	c := *x
	c.Groups = make([]Group, len(x.Groups))
	for i, g := range x.Groups {
		g.Digest = slices.Clone(g.Digest)
		g.Files = slices.Clone(g.Files)
		c.Groups[i] = g
	}
	return &c
}

// Marshal encodes the manifest.
func (x *Index) Marshal() ([]byte, error) {
	if !x.Protocol.valid() {
		return nil, fmt.Errorf("unsupported protocol %d", x.Protocol)
	}

	w := new(writer)
	count := w.short
	if x.Protocol >= ProtocolSmart {
		count = w.smart
	}

	w.u8(uint8(x.Protocol))
	if x.Protocol >= ProtocolVersioned {
		w.u32(x.Version)
	}

	var flags uint8
	if x.HasNames {
		flags |= flagNames
	}
	if x.HasDigests {
		flags |= flagDigests
	}
	if x.HasLengths {
		flags |= flagLengths
	}
	if x.HasUncompressedChecksums {
		flags |= flagUncompressedChecksums
	}
	w.u8(flags)

	count(uint32(len(x.Groups)))

	var prev uint32
	for i, g := range x.Groups {
		if i > 0 && g.ID <= prev {
			return nil, fmt.Errorf("groups are not sorted at %d", i)
		}
		count(g.ID - prev)
		prev = g.ID
	}

	if x.HasNames {
		for _, g := range x.Groups {
			w.u32(uint32(g.NameHash))
		}
	}

	for _, g := range x.Groups {
		w.u32(g.Checksum)
	}

	if x.HasUncompressedChecksums {
		for _, g := range x.Groups {
			w.u32(g.UncompressedChecksum)
		}
	}

	if x.HasDigests {
		for _, g := range x.Groups {
			switch len(g.Digest) {
			case 0:
				w.b = append(w.b, make([]byte, DigestSize)...)
			case DigestSize:
				w.b = append(w.b, g.Digest...)
			default:
				return nil, fmt.Errorf("group %d: invalid digest length %d", g.ID, len(g.Digest))
			}
		}
	}

	if x.HasLengths {
		for _, g := range x.Groups {
			w.u32(g.Length)
			w.u32(g.UncompressedLength)
		}
	}

	for _, g := range x.Groups {
		w.u32(g.Version)
	}

	for _, g := range x.Groups {
		count(uint32(len(g.Files)))
	}

	for _, g := range x.Groups {
		var prev uint32
		for i, f := range g.Files {
			if i > 0 && f.ID <= prev {
				return nil, fmt.Errorf("group %d: files are not sorted at %d", g.ID, i)
			}
			count(f.ID - prev)
			prev = f.ID
		}
	}

	if x.HasNames {
		for _, g := range x.Groups {
			for _, f := range g.Files {
				w.u32(uint32(f.NameHash))
			}
		}
	}

	if w.err != nil {
		return nil, w.err
	}

	return w.b, nil
}

// Unmarshal decodes a manifest. Trailing bytes are rejected.
func Unmarshal(b []byte) (*Index, error) {
	r := &reader{b: b}

	x := &Index{Protocol: Protocol(r.u8())}
	if r.err == nil && !x.Protocol.valid() {
		return nil, common.Errorf(common.ErrInvalidManifest, "unsupported protocol %d", x.Protocol)
	}

	count := func() uint32 { return uint32(r.u16()) }
	if x.Protocol >= ProtocolSmart {
		count = r.smart
	}

	if x.Protocol >= ProtocolVersioned {
		x.Version = r.u32()
	}

	flags := r.u8()
	x.HasNames = flags&flagNames != 0
	x.HasDigests = flags&flagDigests != 0
	x.HasLengths = flags&flagLengths != 0
	x.HasUncompressedChecksums = flags&flagUncompressedChecksums != 0

	n := int(count())
	// every group takes at least a checksum, a version and two counts
	if r.err == nil && n > r.remaining()/(4+4+2+2) {
		r.fail("%d groups do not fit %d bytes", n, r.remaining())
	}
	if r.err != nil {
		return nil, r.err
	}

	x.Groups = make([]Group, n)

	var id uint32
	for i := range x.Groups {
		delta := count()
		if i > 0 && delta == 0 {
			r.fail("duplicate group %d", id)
		}
		id += delta
		if id < delta {
			r.fail("group id overflow")
		}
		x.Groups[i].ID = id
	}

	if x.HasNames {
		for i := range x.Groups {
			x.Groups[i].NameHash = int32(r.u32())
		}
	}

	for i := range x.Groups {
		x.Groups[i].Checksum = r.u32()
	}

	if x.HasUncompressedChecksums {
		for i := range x.Groups {
			x.Groups[i].UncompressedChecksum = r.u32()
		}
	}

	if x.HasDigests {
		for i := range x.Groups {
			if d := r.take(DigestSize); d != nil {
				x.Groups[i].Digest = slices.Clone(d)
			}
		}
	}

	if x.HasLengths {
		for i := range x.Groups {
			x.Groups[i].Length = r.u32()
			x.Groups[i].UncompressedLength = r.u32()
		}
	}

	for i := range x.Groups {
		x.Groups[i].Version = r.u32()
	}

	sizes := make([]int, n)
	var total int
	for i := range sizes {
		sizes[i] = int(count())
		total += sizes[i]
	}
	if r.err == nil && total > r.remaining()/2 {
		r.fail("%d files do not fit %d bytes", total, r.remaining())
	}
	if r.err != nil {
		return nil, r.err
	}

	for i := range x.Groups {
		files := make([]File, sizes[i])

		var id uint32
		for j := range files {
			delta := count()
			if j > 0 && delta == 0 {
				r.fail("group %d: duplicate file %d", x.Groups[i].ID, id)
			}
			id += delta
			if id < delta {
				r.fail("group %d: file id overflow", x.Groups[i].ID)
			}
			files[j].ID = id
		}

		x.Groups[i].Files = files
	}

	if x.HasNames {
		for i := range x.Groups {
			for j := range x.Groups[i].Files {
				x.Groups[i].Files[j].NameHash = int32(r.u32())
			}
		}
	}

	if r.err == nil && r.remaining() != 0 {
		r.fail("%d trailing bytes", r.remaining())
	}
	if r.err != nil {
		return nil, r.err
	}

	return x, nil
}
