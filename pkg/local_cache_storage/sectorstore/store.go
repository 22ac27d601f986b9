// Package sectorstore implements the main_file_cache.dat2 data file and the
// main_file_cache.idx* index files.
//
// Groups are stored as chains of fixed-size sectors. Every sector header
// repeats the archive, the group and the position of the sector in its
// chain, so a damaged chain is detected instead of being followed into
// another group. Writes never modify a chain that is referenced by an index:
// a new chain is written first and becomes visible only when the index entry
// is switched to it.
package sectorstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/index"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DataFileName is the name of the data file inside the store root.
	DataFileName = "main_file_cache.dat2"

	// MetaArchive is the archive holding manifests of the other archives.
	MetaArchive = 255

	// MaxSector is the largest sector a 24-bit pointer can address.
	MaxSector = index.MaxSector

	// MaxGroupLength is the largest group an index entry can describe.
	MaxGroupLength = index.MaxLength

	defaultPerm = 0o640
)

// IndexFileName returns the name of the index file of the archive.
func IndexFileName(archive uint8) string {
	return fmt.Sprintf("main_file_cache.idx%d", archive)
}

// Config configures a Store.
type Config struct {
	// Root is the directory holding the store files.
	Root string
	// Format is used when the store has no layout file.
	Format Format
	// Permissions of created files, 0640 if unset.
	Permissions fs.FileMode
	// ReadOnly opens files for reading only and rejects modifications.
	ReadOnly bool
	// SyncWrites makes every committed write durable before it returns.
	SyncWrites bool
	// Logger defaults to zap.L().
	Logger *zap.Logger
}

type archive struct {
	// commit is held exclusively while an index entry is switched and
	// shared while a chain referenced by the index is read.
	commit sync.RWMutex
	// writer serializes writers of the archive.
	writer sync.Mutex

	idx *index.Index
}

// Store is a sector-based group storage. It is safe for concurrent use.
type Store struct {
	cfg    Config
	log    *zap.Logger
	format Format

	attrsMtx sync.RWMutex
	attrs    map[string]string

	data     *os.File
	dataSize atomic.Int64

	allocMtx   sync.Mutex
	nextSector uint32
	free       *freeList

	// archivesMtx guards lazy creation of index files, archive locks are
	// never removed.
	archivesMtx sync.RWMutex
	archives    [maxArchives]*archive

	closed atomic.Bool
	stats  counters
}

// Create initializes a new store in cfg.Root. It fails if the data file
// already exists.
func Create(cfg Config) (*Store, error) {
	if cfg.ReadOnly {
		return nil, common.ErrReadOnly
	}

	cfg = withDefaults(cfg)

	if _, err := cfg.Format.geometry(0); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Root, dirPerm(cfg.Permissions)); err != nil {
		return nil, fmt.Errorf("could not create store root: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, DataFileName), os.O_RDWR|os.O_CREATE|os.O_EXCL, cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("could not create data file: %w", err)
	}

	if err := writeLayout(cfg.Root, cfg.Format, nil, cfg.Permissions); err != nil {
		_ = f.Close()
		return nil, err
	}

	return newStore(cfg, cfg.Format, nil, f)
}

// Open opens an existing store in cfg.Root.
func Open(cfg Config) (*Store, error) {
	cfg = withDefaults(cfg)

	format, attrs, ok, err := readLayout(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !ok {
		format = cfg.Format
	}

	flag := os.O_RDWR
	if cfg.ReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, DataFileName), flag, cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("could not open data file: %w", err)
	}

	return newStore(cfg, format, attrs, f)
}

func withDefaults(cfg Config) Config {
	if cfg.Permissions == 0 {
		cfg.Permissions = defaultPerm
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	return cfg
}

func dirPerm(perm fs.FileMode) fs.FileMode {
	// directories need the search bit wherever files are readable
	return perm | (perm&0o444)>>2
}

func newStore(cfg Config, format Format, attrs map[string]string, f *os.File) (*Store, error) {
	if err := lockFile(f, cfg.ReadOnly); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not lock %s: %w", cfg.Root, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not stat data file: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		log:    cfg.Logger.With(zap.String("component", "SectorStore"), zap.String("path", cfg.Root)),
		format: format,
		attrs:  attrs,
		data:   f,
		free:   newFreeList(),
	}
	s.dataSize.Store(st.Size())

	sectorSize := int64(format.SectorSize())
	next := (st.Size() + sectorSize - 1) / sectorSize
	if next > MaxSector+1 {
		next = MaxSector + 1
	}
	s.nextSector = uint32(max(1, next))

	for i := range s.archives {
		path := filepath.Join(cfg.Root, IndexFileName(uint8(i)))
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			_ = s.Close()
			return nil, fmt.Errorf("could not stat index %d: %w", i, err)
		}

		idx, err := index.Open(path, cfg.ReadOnly, cfg.Permissions)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("archive %d: %w", i, err)
		}
		s.archives[i] = &archive{idx: idx}
	}

	s.log.Debug("sector store opened",
		zap.Stringer("format", format),
		zap.Int64("size", st.Size()),
		zap.Bool("read-only", cfg.ReadOnly))

	return s, nil
}

// Format returns the sector format of the store.
func (s *Store) Format() Format {
	return s.format
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.cfg.Root
}

// ReadOnly reports whether the store rejects modifications.
func (s *Store) ReadOnly() bool {
	return s.cfg.ReadOnly
}

// archive returns the archive state, creating the index file if create is
// set. Nil is returned for absent archives when create is not set.
func (s *Store) archive(id uint8, create bool) (*archive, error) {
	s.archivesMtx.RLock()
	a := s.archives[id]
	s.archivesMtx.RUnlock()

	if a != nil || !create {
		return a, nil
	}

	if s.cfg.ReadOnly {
		return nil, common.ErrReadOnly
	}

	s.archivesMtx.Lock()
	defer s.archivesMtx.Unlock()

	if a = s.archives[id]; a != nil {
		return a, nil
	}

	idx, err := index.Open(filepath.Join(s.cfg.Root, IndexFileName(id)), false, s.cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("archive %d: %w", id, err)
	}

	a = &archive{idx: idx}
	s.archives[id] = a

	return a, nil
}

// Archives returns ids of archives that have an index file, in ascending
// order.
func (s *Store) Archives() []uint8 {
	s.archivesMtx.RLock()
	defer s.archivesMtx.RUnlock()

	var res []uint8
	for i, a := range s.archives {
		if a != nil {
			res = append(res, uint8(i))
		}
	}
	return res
}

// List returns ids of the groups present in the archive.
func (s *Store) List(id uint8) ([]uint32, error) {
	a, err := s.archive(id, false)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("archive %d: %w", id, common.ErrNotFound)
	}

	return a.idx.List()
}

// Lookup returns the index entry of the group.
func (s *Store) Lookup(id uint8, group uint32) (index.Entry, error) {
	a, err := s.archive(id, false)
	if err != nil {
		return index.Entry{}, err
	}
	if a == nil {
		return index.Entry{}, fmt.Errorf("archive %d: %w", id, common.ErrNotFound)
	}

	e, ok, err := a.idx.Get(group)
	if err != nil {
		return index.Entry{}, err
	}
	if !ok {
		return index.Entry{}, fmt.Errorf("group %d/%d: %w", id, group, common.ErrNotFound)
	}

	return e, nil
}

// Exists reports whether the group is present.
func (s *Store) Exists(id uint8, group uint32) (bool, error) {
	_, err := s.Lookup(id, group)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Flush commits the data file and all index files to stable storage.
func (s *Store) Flush() error {
	if s.cfg.ReadOnly {
		return nil
	}

	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("could not sync data file: %w", err)
	}

	s.archivesMtx.RLock()
	defer s.archivesMtx.RUnlock()

	for i, a := range s.archives {
		if a == nil {
			continue
		}
		if err := a.idx.Sync(); err != nil {
			return fmt.Errorf("could not sync index %d: %w", i, err)
		}
	}

	return nil
}

// Close flushes and closes all files. Further calls are no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.archivesMtx.Lock()
	defer s.archivesMtx.Unlock()

	var errs []error

	for i, a := range s.archives {
		if a == nil {
			continue
		}
		if !s.cfg.ReadOnly {
			if err := a.idx.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync index %d: %w", i, err))
			}
		}
		if err := a.idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %d: %w", i, err))
		}
	}

	if !s.cfg.ReadOnly {
		if err := s.data.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync data file: %w", err))
		}
	}
	if err := unlockFile(s.data); err != nil {
		errs = append(errs, fmt.Errorf("unlock data file: %w", err))
	}
	if err := s.data.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close data file: %w", err))
	}

	s.log.Debug("sector store closed")

	return errors.Join(errs...)
}
