// Package cache implements a JS5 cache: groups of files in 255 archives
// stored in a sector store, described by per-archive manifests and a master
// index kept in the meta archive.
//
// Reads go through the sector store, XTEA decryption, decompression and
// group splitting. Writes run the pipeline in reverse and switch the group,
// its manifest and the master index under the archive lock, so readers
// always observe a consistent archive.
package cache

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/compression"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/container"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/manifest"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/sectorstore"
	"go.uber.org/zap"
)

const (
	// MaxArchive is the largest archive id available for groups.
	MaxArchive = sectorstore.MetaArchive - 1

	// MasterIndexGroup is the meta archive group holding the master index.
	MasterIndexGroup = sectorstore.MetaArchive

	// MasterIndexFormatAttribute is the store attribute recording the
	// master index format.
	MasterIndexFormatAttribute = "master_index_format"
)

type zeroKeys struct{}

func (zeroKeys) Key(uint8, uint32) (xtea.Key, error) {
	return xtea.ZeroKey, nil
}

// Cache is a JS5 cache. It is safe for concurrent use.
type Cache struct {
	*cfg

	store *sectorstore.Store

	// views are held shared by readers and exclusively while a group,
	// its manifest and the master index are switched.
	views [MaxArchive + 1]sync.RWMutex
	// writers serialize writers of an archive.
	writers [MaxArchive + 1]sync.Mutex

	// metaMtx serializes master index updates.
	metaMtx   sync.Mutex
	masterMtx sync.RWMutex
	master    *masterindex.MasterIndex

	manifests *lru.Cache[uint8, *manifest.Index]
}

// Create initializes a new cache in root.
func Create(root string, opts ...Option) (*Cache, error) {
	c := defaultCfg()
	for i := range opts {
		opts[i](c)
	}

	if c.readOnly {
		return nil, common.ErrReadOnly
	}

	s, err := sectorstore.Create(c.storeConfig(root))
	if err != nil {
		return nil, err
	}

	res, err := newCache(c, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	res.master = masterindex.New(c.masterFormat)
	err = res.writeMaster(res.master)
	if err == nil {
		err = s.SetAttribute(MasterIndexFormatAttribute, c.masterFormat.String())
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return res, nil
}

// Open opens an existing cache in root.
func Open(root string, opts ...Option) (*Cache, error) {
	c := defaultCfg()
	for i := range opts {
		opts[i](c)
	}

	s, err := sectorstore.Open(c.storeConfig(root))
	if err != nil {
		return nil, err
	}

	return initCache(c, s)
}

// New returns a cache over an opened store. The store is closed with the
// cache.
func New(s *sectorstore.Store, opts ...Option) (*Cache, error) {
	c := defaultCfg()
	for i := range opts {
		opts[i](c)
	}
	c.readOnly = s.ReadOnly()

	return initCache(c, s)
}

func initCache(c *cfg, s *sectorstore.Store) (*Cache, error) {
	res, err := newCache(c, s)
	if err == nil {
		err = res.loadMaster()
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return res, nil
}

func (c *cfg) storeConfig(root string) sectorstore.Config {
	return sectorstore.Config{
		Root:        root,
		Format:      c.sectorFormat,
		Permissions: c.perm,
		ReadOnly:    c.readOnly,
		SyncWrites:  c.syncWrites,
		Logger:      c.log,
	}
}

func newCache(c *cfg, s *sectorstore.Store) (*Cache, error) {
	if err := c.compression.Valid(); err != nil {
		return nil, err
	}

	manifests, err := lru.New[uint8, *manifest.Index](max(1, c.manifestCacheSize))
	if err != nil {
		return nil, fmt.Errorf("could not create manifest cache: %w", err)
	}

	return &Cache{
		cfg:       c,
		store:     s,
		manifests: manifests,
	}, nil
}

// loadMaster reads the master index or rebuilds it from manifests if the
// store has none. The recorded format wins over the configured one. Stores
// without a recorded format are read with the configured one and the index
// is rebuilt if it does not decode.
func (c *Cache) loadMaster() error {
	format, recorded, err := c.recordedMasterFormat()
	if err != nil {
		return err
	}

	raw, err := c.store.ReadGroup(sectorstore.MetaArchive, MasterIndexGroup)
	switch {
	case err == nil:
		c.master, err = decodeMaster(raw, format)
		if err == nil {
			return nil
		}
		if recorded {
			return err
		}

		c.log.Warn("master index does not decode with the configured format, rebuilding",
			zap.Stringer("format", format),
			zap.Error(err))
	case errors.Is(err, common.ErrNotFound):
	default:
		return fmt.Errorf("could not read master index: %w", err)
	}

	return c.rebuildMaster(format)
}

func (c *Cache) recordedMasterFormat() (masterindex.Format, bool, error) {
	v, ok := c.store.Attribute(MasterIndexFormatAttribute)
	if !ok {
		return c.masterFormat, false, nil
	}

	f, err := masterindex.ParseFormat(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid recorded master index format: %w", err)
	}

	if f != c.masterFormat {
		c.log.Debug("using recorded master index format",
			zap.Stringer("recorded", f),
			zap.Stringer("configured", c.masterFormat))
	}

	return f, true, nil
}

func decodeMaster(raw []byte, f masterindex.Format) (*masterindex.MasterIndex, error) {
	ct, err := container.Decode(raw, xtea.ZeroKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode master index: %w", err)
	}

	m, err := masterindex.Unmarshal(ct.Data, f)
	if err != nil {
		return nil, fmt.Errorf("could not decode master index: %w", err)
	}
	return m, nil
}

// rebuildMaster builds the master index of the given format from stored
// manifests.
func (c *Cache) rebuildMaster(format masterindex.Format) error {
	m := masterindex.New(format)

	for a := range MaxArchive + 1 {
		archive := uint8(a)

		raw, err := c.store.ReadGroup(sectorstore.MetaArchive, uint32(archive))
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("could not read manifest of archive %d: %w", archive, err)
		}

		idx, err := decodeManifest(raw)
		if err != nil {
			return fmt.Errorf("archive %d: %w", archive, err)
		}

		if err := m.Set(archive, raw, idx); err != nil {
			return err
		}
	}

	c.master = m

	c.log.Debug("master index rebuilt from manifests",
		zap.Int("archives", len(m.Entries)),
		zap.Stringer("format", m.Format))

	return nil
}

func decodeManifest(raw []byte) (*manifest.Index, error) {
	ct, err := container.Decode(raw, xtea.ZeroKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode manifest: %w", err)
	}

	return manifest.Unmarshal(ct.Data)
}

func checkArchive(archive uint8) error {
	if archive > MaxArchive {
		return common.Errorf(common.ErrOutOfRange, "archive %d", archive)
	}
	return nil
}

// manifest returns the manifest of the archive. The caller must hold either
// the view or the writer lock of the archive. The result must not be
// modified.
func (c *Cache) manifest(archive uint8) (*manifest.Index, error) {
	if m, ok := c.manifests.Get(archive); ok {
		return m, nil
	}

	raw, err := c.store.ReadGroup(sectorstore.MetaArchive, uint32(archive))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("archive %d: %w", archive, common.ErrNotFound)
		}
		return nil, fmt.Errorf("could not read manifest of archive %d: %w", archive, err)
	}

	m, err := decodeManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("archive %d: %w", archive, err)
	}

	c.manifests.Add(archive, m)

	return m, nil
}

func (c *Cache) key(archive uint8, group uint32) (xtea.Key, error) {
	key, err := c.keys.Key(archive, group)
	if err != nil {
		return key, fmt.Errorf("could not get key of group %d/%d: %w", archive, group, err)
	}
	return key, nil
}

// MasterIndex returns a snapshot of the master index.
func (c *Cache) MasterIndex() *masterindex.MasterIndex {
	c.masterMtx.RLock()
	defer c.masterMtx.RUnlock()

	return cloneMaster(c.master)
}

func cloneMaster(m *masterindex.MasterIndex) *masterindex.MasterIndex {
	res := &masterindex.MasterIndex{
		Format:  m.Format,
		Entries: make([]masterindex.Entry, len(m.Entries)),
	}
	// entries are replaced as a whole, so groups and digests can be shared
	copy(res.Entries, m.Entries)
	return res
}

// Archives returns ids of archives that have a manifest.
func (c *Cache) Archives() []uint8 {
	c.masterMtx.RLock()
	defer c.masterMtx.RUnlock()

	var res []uint8
	for i := range c.master.Entries {
		if !c.master.Entries[i].IsZero() {
			res = append(res, uint8(i))
		}
	}
	return res
}

// Manifest returns a copy of the manifest of the archive.
func (c *Cache) Manifest(archive uint8) (*manifest.Index, error) {
	if err := checkArchive(archive); err != nil {
		return nil, err
	}

	c.views[archive].RLock()
	defer c.views[archive].RUnlock()

	m, err := c.manifest(archive)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// List returns ids of groups in the archive.
func (c *Cache) List(archive uint8) ([]uint32, error) {
	if err := checkArchive(archive); err != nil {
		return nil, err
	}

	c.views[archive].RLock()
	defer c.views[archive].RUnlock()

	m, err := c.manifest(archive)
	if err != nil {
		return nil, err
	}
	return m.GroupIDs(), nil
}

// Exists reports whether the archive manifest lists the group.
func (c *Cache) Exists(archive uint8, group uint32) (bool, error) {
	if err := checkArchive(archive); err != nil {
		return false, err
	}

	c.views[archive].RLock()
	defer c.views[archive].RUnlock()

	m, err := c.manifest(archive)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	_, ok := m.Group(group)
	return ok, nil
}

// Compression returns the compression written groups are compared against.
func (c *Cache) Compression() compression.Type {
	return c.compression
}

// Store returns the underlying sector store.
func (c *Cache) Store() *sectorstore.Store {
	return c.store
}

// Flush commits all written data to stable storage.
func (c *Cache) Flush() error {
	err := c.store.Flush()
	c.metrics.SetDataFileSize(c.store.Stats().DataFileLength)
	return err
}

// Close flushes and closes the cache.
func (c *Cache) Close() error {
	c.metrics.SetDataFileSize(c.store.Stats().DataFileLength)
	return c.store.Close()
}
