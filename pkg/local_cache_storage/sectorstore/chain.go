package sectorstore

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/index"
	storagelog "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/internal/log"
	"go.uber.org/zap"
)

// ReadChain reconstructs length bytes of the group starting at sector
// first. It does not consult the index, so the caller is responsible for
// the chain not being released concurrently; ReadGroup should be used
// otherwise.
func (s *Store) ReadChain(archive uint8, group uint32, length uint32, first uint32) ([]byte, error) {
	g, err := s.format.geometry(group)
	if err != nil {
		return nil, err
	}

	var (
		out        = make([]byte, length)
		sectorSize = int64(s.format.SectorSize())
		hdr        = make([]byte, g.header)
		size       = s.dataSize.Load()
		sector     = first
		read       int
	)

	for chunk := 0; ; chunk++ {
		if sector == 0 {
			return nil, common.Errorf(common.ErrTruncatedStore,
				"group %d/%d ends after %d of %d bytes", archive, group, read, length)
		}

		pos := int64(sector) * sectorSize
		if pos+int64(g.header) > size {
			return nil, common.Errorf(common.ErrCorruptSectorChain,
				"sector %d of group %d/%d is outside the data file", sector, archive, group)
		}

		if err := s.readAt(hdr, pos); err != nil {
			return nil, err
		}

		h := g.unmarshalHeader(hdr)
		switch {
		case h.group != group:
			return nil, common.Errorf(common.ErrCorruptSectorChain,
				"sector %d: expected group %d, found %d", sector, group, h.group)
		case int(h.chunk) != chunk&0xFFFF:
			return nil, common.Errorf(common.ErrCorruptSectorChain,
				"sector %d: expected chunk %d, found %d", sector, chunk, h.chunk)
		case h.archive != archive:
			return nil, common.Errorf(common.ErrCorruptSectorChain,
				"sector %d: expected archive %d, found %d", sector, archive, h.archive)
		}

		n := min(int(length)-read, g.payload)
		if err := s.readAt(out[read:read+n], pos+int64(g.header)); err != nil {
			return nil, err
		}
		read += n
		sector = h.next

		if read == int(length) {
			break
		}
	}

	if sector != 0 {
		return nil, common.Errorf(common.ErrCorruptSectorChain,
			"group %d/%d continues past %d bytes", archive, group, length)
	}

	return out, nil
}

func (s *Store) readAt(b []byte, off int64) error {
	_, err := s.data.ReadAt(b, off)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return common.Errorf(common.ErrTruncatedStore, "data file ends before offset %d", off+int64(len(b)))
		}
		return fmt.Errorf("could not read data file: %w", err)
	}
	return nil
}

// ReadGroup reads the group referenced by the archive index.
func (s *Store) ReadGroup(id uint8, group uint32) ([]byte, error) {
	a, err := s.archive(id, false)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("archive %d: %w", id, common.ErrNotFound)
	}

	a.commit.RLock()
	defer a.commit.RUnlock()

	e, ok, err := a.idx.Get(group)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("group %d/%d: %w", id, group, common.ErrNotFound)
	}

	data, err := s.ReadChain(id, group, e.Length, e.Sector)
	if err != nil {
		return nil, err
	}

	s.stats.groupsRead.Inc()
	s.stats.bytesRead.Add(uint64(len(data)))

	return data, nil
}

// Pending is a completely written chain not referenced by any index yet.
// It must be passed to either Commit or Abort.
type Pending struct {
	archive uint8
	group   uint32
	length  uint32
	sectors []uint32
	done    bool
}

// Entry returns the index entry the chain will be committed with.
func (p *Pending) Entry() index.Entry {
	return index.Entry{Length: p.length, Sector: p.sectors[0]}
}

// Sectors returns the sectors of the chain in order.
func (p *Pending) Sectors() []uint32 {
	return p.sectors
}

// WriteChain writes data into a fresh chain of the group. Sectors of the
// chain are taken from the free list if a large enough chain was released
// before, or appended to the data file.
func (s *Store) WriteChain(archive uint8, group uint32, data []byte) (*Pending, error) {
	if s.cfg.ReadOnly {
		return nil, common.ErrReadOnly
	}

	if len(data) > MaxGroupLength {
		return nil, common.Errorf(common.ErrOutOfRange, "group %d/%d of %d bytes is too large", archive, group, len(data))
	}

	g, err := s.format.geometry(group)
	if err != nil {
		return nil, err
	}

	sectors, err := s.allocate(archive, g.sectors(len(data)))
	if err != nil {
		return nil, err
	}

	p := &Pending{
		archive: archive,
		group:   group,
		length:  uint32(len(data)),
		sectors: sectors,
	}

	if err := s.writeSectors(g, p, data); err != nil {
		s.Abort(p)
		return nil, err
	}

	if s.cfg.SyncWrites {
		if err := s.data.Sync(); err != nil {
			s.Abort(p)
			return nil, fmt.Errorf("could not sync data file: %w", err)
		}
	}

	return p, nil
}

func (s *Store) allocate(archive uint8, n int) ([]uint32, error) {
	s.allocMtx.Lock()
	defer s.allocMtx.Unlock()

	if sectors := s.free.take(archive, n); sectors != nil {
		s.stats.sectorsReused.Add(uint64(n))
		return sectors, nil
	}

	if uint64(s.nextSector)+uint64(n)-1 > MaxSector {
		return nil, common.Errorf(common.ErrOutOfRange, "data file cannot address %d more sectors", n)
	}

	sectors := make([]uint32, n)
	for i := range sectors {
		sectors[i] = s.nextSector + uint32(i)
	}
	s.nextSector += uint32(n)
	s.stats.sectorsAppend.Add(uint64(n))

	return sectors, nil
}

func (s *Store) release(archive uint8, sectors []uint32) {
	if len(sectors) == 0 {
		return
	}

	s.allocMtx.Lock()
	s.free.put(archive, sectors)
	s.allocMtx.Unlock()

	s.stats.sectorsFreed.Add(uint64(len(sectors)))
}

// writeSectors writes the chain, coalescing runs of adjacent sectors into
// single writes. Only the final sector may be shorter than a full sector.
func (s *Store) writeSectors(g geometry, p *Pending, data []byte) error {
	var (
		sectorSize = s.format.SectorSize()
		buf        []byte
		runStart   uint32
	)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		off := int64(runStart) * int64(sectorSize)
		if _, err := s.data.WriteAt(buf, off); err != nil {
			return fmt.Errorf("could not write data file: %w", err)
		}

		end := off + int64(len(buf))
		for {
			cur := s.dataSize.Load()
			if cur >= end || s.dataSize.CompareAndSwap(cur, end) {
				break
			}
		}

		buf = buf[:0]
		return nil
	}

	for i, sector := range p.sectors {
		if len(buf) > 0 && sector != runStart+uint32(len(buf)/sectorSize) {
			if err := flush(); err != nil {
				return err
			}
		}
		if len(buf) == 0 {
			runStart = sector
		}

		var next uint32
		if i+1 < len(p.sectors) {
			next = p.sectors[i+1]
		}

		chunk := data[min(i*g.payload, len(data)):min((i+1)*g.payload, len(data))]

		hdr := make([]byte, g.header)
		g.marshalHeader(hdr, sectorHeader{
			group:   p.group,
			chunk:   uint16(i),
			next:    next,
			archive: p.archive,
		})

		buf = append(buf, hdr...)
		buf = append(buf, chunk...)
	}

	return flush()
}

// Commit switches the index entry of the group to the pending chain and
// releases the chain it replaced.
func (s *Store) Commit(p *Pending) error {
	return s.CommitAll(p)
}

// CommitAll switches index entries of all pending chains at once. If any
// entry can not be switched, entries already switched are restored and all
// chains are aborted. Replaced chains are released only after every entry
// is switched. Pending chains must belong to different groups.
func (s *Store) CommitAll(ps ...*Pending) error {
	for _, p := range ps {
		if p.done {
			return errors.New("pending chain is already committed or aborted")
		}
	}

	var ids []uint8
	for _, p := range ps {
		if !slices.Contains(ids, p.archive) {
			ids = append(ids, p.archive)
		}
	}
	slices.Sort(ids)

	archives := make(map[uint8]*archive, len(ids))
	for _, id := range ids {
		a, err := s.archive(id, true)
		if err != nil {
			s.abortAll(ps)
			return err
		}
		archives[id] = a
	}

	olds := make([]replacedEntry, len(ps))

	for _, id := range ids {
		archives[id].commit.Lock()
	}

	var (
		err error
		n   int
	)
	for ; n < len(ps); n++ {
		p := ps[n]
		idx := archives[p.archive].idx

		olds[n].entry, olds[n].ok, err = idx.Get(p.group)
		if err == nil {
			err = idx.Put(p.group, p.Entry())
		}
		if err != nil {
			break
		}
	}
	if err == nil && s.cfg.SyncWrites {
		for _, id := range ids {
			if err = archives[id].idx.Sync(); err != nil {
				break
			}
		}
	}
	if err != nil {
		s.restore(ps[:n], olds, archives)
	}

	for i := len(ids) - 1; i >= 0; i-- {
		archives[ids[i]].commit.Unlock()
	}

	if err != nil {
		s.abortAll(ps)
		return err
	}

	for i, p := range ps {
		p.done = true

		s.stats.groupsWritten.Inc()
		s.stats.bytesWritten.Add(uint64(p.length))

		if olds[i].ok {
			s.release(p.archive, s.chainSectors(p.archive, p.group, olds[i].entry))
		}
	}

	return nil
}

type replacedEntry struct {
	entry index.Entry
	ok    bool
}

// restore puts back entries replaced by the switched pending chains. The
// caller must hold commit locks of their archives.
func (s *Store) restore(ps []*Pending, olds []replacedEntry, archives map[uint8]*archive) {
	for i := len(ps) - 1; i >= 0; i-- {
		p := ps[i]
		idx := archives[p.archive].idx

		var err error
		if olds[i].ok {
			err = idx.Put(p.group, olds[i].entry)
		} else {
			err = idx.Remove(p.group)
		}
		if err != nil {
			s.log.Error("could not restore index entry",
				zap.Uint8("archive", p.archive),
				zap.Uint32("group", p.group),
				zap.Error(err))
		}
	}
}

func (s *Store) abortAll(ps []*Pending) {
	for _, p := range ps {
		s.Abort(p)
	}
}

// Abort returns the sectors of the pending chain to the free list.
func (s *Store) Abort(p *Pending) {
	if p.done {
		return
	}
	p.done = true
	s.release(p.archive, p.sectors)
}

// chainSectors collects sectors of a chain that is no longer referenced.
// Collection stops at the first sector that does not belong to the chain,
// so a damaged chain never releases sectors of other groups.
func (s *Store) chainSectors(archive uint8, group uint32, e index.Entry) []uint32 {
	g, err := s.format.geometry(group)
	if err != nil {
		return nil
	}

	var (
		sectorSize = int64(s.format.SectorSize())
		hdr        = make([]byte, g.header)
		size       = s.dataSize.Load()
		n          = g.sectors(int(e.Length))
		sectors    = make([]uint32, 0, n)
		sector     = e.Sector
	)

	for chunk := 0; chunk < n && sector != 0; chunk++ {
		pos := int64(sector) * sectorSize
		if pos+int64(g.header) > size || s.readAt(hdr, pos) != nil {
			break
		}

		h := g.unmarshalHeader(hdr)
		if h.group != group || int(h.chunk) != chunk&0xFFFF || h.archive != archive {
			break
		}

		sectors = append(sectors, sector)
		sector = h.next
	}

	return sectors
}

// WriteGroup stores data as the new content of the group.
func (s *Store) WriteGroup(id uint8, group uint32, data []byte) error {
	a, err := s.archive(id, true)
	if err != nil {
		return err
	}

	a.writer.Lock()
	defer a.writer.Unlock()

	p, err := s.WriteChain(id, group, data)
	if err != nil {
		return err
	}

	if err := s.Commit(p); err != nil {
		return err
	}

	storagelog.Write(s.log,
		storagelog.OpField("write"),
		storagelog.ArchiveField(id),
		storagelog.GroupField(group),
		storagelog.StorageTypeField(s.format.String()))

	return nil
}

// RemoveGroup deletes the group from the archive index and releases its
// chain. Removing an absent group is not an error.
func (s *Store) RemoveGroup(id uint8, group uint32) error {
	if s.cfg.ReadOnly {
		return common.ErrReadOnly
	}

	a, err := s.archive(id, false)
	if err != nil || a == nil {
		return err
	}

	a.writer.Lock()
	defer a.writer.Unlock()

	a.commit.Lock()
	old, ok, err := a.idx.Get(group)
	if err == nil && ok {
		err = a.idx.Remove(group)
	}
	a.commit.Unlock()

	if err != nil || !ok {
		return err
	}

	s.stats.groupsRemoved.Inc()
	s.release(id, s.chainSectors(id, group, old))

	storagelog.Write(s.log,
		storagelog.OpField("remove"),
		storagelog.ArchiveField(id),
		storagelog.GroupField(group))

	return nil
}
