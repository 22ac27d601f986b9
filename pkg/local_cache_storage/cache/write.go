package cache

import (
	"cmp"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"time"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/container"
	groupcodec "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/group"
	storagelog "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/internal/log"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/manifest"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/sectorstore"
	"go.uber.org/zap"
)

// File is a file of a group.
type File struct {
	ID uint32
	// Name, if set, overrides NameHash on write.
	Name     string
	NameHash int32
	Data     []byte
}

// Group is a group with its files sorted by id.
type Group struct {
	ID uint32
	// Name, if set, overrides NameHash on write.
	Name     string
	NameHash int32
	Version  uint32
	Files    []File
}

func nameHash(name string, hash int32) int32 {
	if name != "" {
		return manifest.NameHash(name)
	}
	return hash
}

// Write stores files as the group, file i getting id i.
func (c *Cache) Write(archive uint8, group uint32, files [][]byte) error {
	g := Group{
		ID:    group,
		Files: make([]File, len(files)),
	}
	for i := range files {
		g.Files[i] = File{ID: uint32(i), Data: files[i]}
	}

	return c.WriteGroup(archive, g)
}

// WriteGroup stores the group replacing any previous version of it. The
// group version is increased and the archive manifest and the master index
// are updated with it. Readers observe either the previous or the new group.
func (c *Cache) WriteGroup(archive uint8, g Group) error {
	if err := checkArchive(archive); err != nil {
		return err
	}
	if c.readOnly {
		return common.ErrReadOnly
	}
	if len(g.Files) == 0 {
		return fmt.Errorf("group %d/%d has no files", archive, g.ID)
	}

	start := time.Now()

	files := slices.Clone(g.Files)
	slices.SortStableFunc(files, func(a, b File) int { return cmp.Compare(a.ID, b.ID) })

	data := make([][]byte, len(files))
	entries := make([]manifest.File, len(files))
	named := g.Name != "" || g.NameHash != 0
	for i := range files {
		if i > 0 && files[i].ID == files[i-1].ID {
			return fmt.Errorf("group %d/%d: duplicate file %d", archive, g.ID, files[i].ID)
		}

		data[i] = files[i].Data
		entries[i] = manifest.File{
			ID:       files[i].ID,
			NameHash: nameHash(files[i].Name, files[i].NameHash),
		}
		named = named || entries[i].NameHash != 0
	}

	packed, err := groupcodec.Join(data)
	if err != nil {
		return err
	}

	key, err := c.key(archive, g.ID)
	if err != nil {
		return err
	}

	enc, err := container.EncodeBest(packed, c.compression, key)
	if err != nil {
		return fmt.Errorf("could not encode group %d/%d: %w", archive, g.ID, err)
	}

	c.writers[archive].Lock()
	defer c.writers[archive].Unlock()

	m, err := c.manifestForUpdate(archive)
	if err != nil {
		return err
	}

	entry := manifest.Group{
		ID:                   g.ID,
		NameHash:             nameHash(g.Name, g.NameHash),
		Version:              1,
		Checksum:             masterindex.Checksum(enc),
		UncompressedChecksum: crc32.ChecksumIEEE(packed),
		Length:               uint32(len(enc)),
		UncompressedLength:   uint32(len(packed)),
		Files:                entries,
	}
	if prev, ok := m.Group(g.ID); ok {
		entry.Version = prev.Version + 1
	}
	if m.HasDigests {
		entry.Digest = masterindex.Digest(enc)
	}

	m.HasNames = m.HasNames || named
	m.Put(entry)
	m.Version++

	p, err := c.store.WriteChain(archive, g.ID, container.AppendVersion(enc, uint16(entry.Version)))
	if err != nil {
		return fmt.Errorf("could not write group %d/%d: %w", archive, g.ID, err)
	}

	if err := c.commit(archive, m, []*sectorstore.Pending{p}, nil); err != nil {
		return err
	}

	c.metrics.AddWriteDuration(archive, time.Since(start))
	c.metrics.SetDataFileSize(c.store.Stats().DataFileLength)

	storagelog.Write(c.log,
		storagelog.OpField("write"),
		storagelog.ArchiveField(archive),
		storagelog.GroupField(g.ID),
		zap.Uint32("version", entry.Version),
		zap.Stringer("compression", c.compression))

	return nil
}

// manifestForUpdate returns a copy of the archive manifest or a new one if
// the archive does not exist. The caller must hold the writer lock.
func (c *Cache) manifestForUpdate(archive uint8) (*manifest.Index, error) {
	m, err := c.manifest(archive)
	if err == nil {
		return m.Clone(), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	m = manifest.New(c.protocol)
	m.HasLengths = true
	m.HasUncompressedChecksums = true

	c.masterMtx.RLock()
	m.HasDigests = c.master.Format == masterindex.FormatVersioned
	c.masterMtx.RUnlock()

	return m, nil
}

// Remove deletes the group from the archive.
func (c *Cache) Remove(archive uint8, group uint32) error {
	if err := checkArchive(archive); err != nil {
		return err
	}
	if c.readOnly {
		return common.ErrReadOnly
	}

	c.writers[archive].Lock()
	defer c.writers[archive].Unlock()

	m, err := c.manifest(archive)
	if err != nil {
		return err
	}

	m = m.Clone()
	if !m.Remove(group) {
		return fmt.Errorf("group %d/%d: %w", archive, group, common.ErrNotFound)
	}
	m.Version++

	if err := c.commit(archive, m, nil, []uint32{group}); err != nil {
		return err
	}

	storagelog.Write(c.log,
		storagelog.OpField("remove"),
		storagelog.ArchiveField(archive),
		storagelog.GroupField(group))

	return nil
}

// RemoveArchive deletes all groups of the archive and its manifest.
func (c *Cache) RemoveArchive(archive uint8) error {
	if err := checkArchive(archive); err != nil {
		return err
	}
	if c.readOnly {
		return common.ErrReadOnly
	}

	c.writers[archive].Lock()
	defer c.writers[archive].Unlock()

	if _, err := c.manifest(archive); err != nil {
		return err
	}

	groups, err := c.store.List(archive)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}

	if err := c.commit(archive, nil, nil, groups); err != nil {
		return err
	}

	storagelog.Write(c.log,
		storagelog.OpField("remove archive"),
		storagelog.ArchiveField(archive),
		zap.Int("groups", len(groups)))

	return nil
}

// commit writes the manifest m of the archive and the updated master index,
// then switches pending chains, the manifest and the master index at once
// under the archive view lock and removes the given groups. A nil m removes the
// archive. Pending chains that were not committed are aborted.
func (c *Cache) commit(archive uint8, m *manifest.Index, pending []*sectorstore.Pending, remove []uint32) error {
	defer func() {
		for _, p := range pending {
			c.store.Abort(p)
		}
	}()

	var menc []byte
	if m != nil {
		raw, err := m.Marshal()
		if err != nil {
			return fmt.Errorf("could not encode manifest of archive %d: %w", archive, err)
		}

		menc, err = container.EncodeBest(raw, c.compression, xtea.ZeroKey)
		if err != nil {
			return fmt.Errorf("could not encode manifest of archive %d: %w", archive, err)
		}

		p, err := c.store.WriteChain(sectorstore.MetaArchive, uint32(archive), menc)
		if err != nil {
			return fmt.Errorf("could not write manifest of archive %d: %w", archive, err)
		}
		pending = append(pending, p)
	}

	c.metaMtx.Lock()
	defer c.metaMtx.Unlock()

	master := cloneMaster(c.master)
	if m != nil {
		if err := master.Set(archive, menc, m); err != nil {
			return err
		}
	} else {
		master.Remove(archive)
	}

	p, err := c.writeMasterChain(master)
	if err != nil {
		return err
	}
	pending = append(pending, p)

	c.views[archive].Lock()
	defer c.views[archive].Unlock()

	if err := c.store.CommitAll(pending...); err != nil {
		return err
	}

	if m == nil {
		c.manifests.Remove(archive)
	} else {
		c.manifests.Add(archive, m)
	}

	c.masterMtx.Lock()
	c.master = master
	c.masterMtx.Unlock()

	if err := c.store.SetAttribute(MasterIndexFormatAttribute, master.Format.String()); err != nil {
		return fmt.Errorf("could not record master index format: %w", err)
	}

	if m == nil {
		if err := c.store.RemoveGroup(sectorstore.MetaArchive, uint32(archive)); err != nil {
			return fmt.Errorf("could not remove manifest of archive %d: %w", archive, err)
		}
	}

	for _, group := range remove {
		if err := c.store.RemoveGroup(archive, group); err != nil {
			return fmt.Errorf("could not remove group %d/%d: %w", archive, group, err)
		}
	}

	return nil
}

func (c *Cache) writeMasterChain(m *masterindex.MasterIndex) (*sectorstore.Pending, error) {
	raw, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("could not encode master index: %w", err)
	}

	enc, err := container.EncodeBest(raw, c.compression, xtea.ZeroKey)
	if err != nil {
		return nil, fmt.Errorf("could not encode master index: %w", err)
	}

	p, err := c.store.WriteChain(sectorstore.MetaArchive, MasterIndexGroup, enc)
	if err != nil {
		return nil, fmt.Errorf("could not write master index: %w", err)
	}

	return p, nil
}

// writeMaster stores the master index outside of any archive update.
func (c *Cache) writeMaster(m *masterindex.MasterIndex) error {
	p, err := c.writeMasterChain(m)
	if err != nil {
		return err
	}
	return c.store.Commit(p)
}
