// Package index implements main_file_cache.idx files: dense arrays of
// 6-byte records (u24 group length, u24 first sector) addressed by group id.
package index

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
)

const (
	// EntrySize is the length of a single on-disk record.
	EntrySize = 6

	// MaxLength is the largest group length an entry can describe.
	MaxLength = 1<<24 - 1
	// MaxSector is the largest sector an entry can point to.
	MaxSector = 1<<24 - 1

	listBatch = 4096
)

// Entry locates a group in the data file. Zero Sector means the group is
// absent.
type Entry struct {
	Length uint32
	Sector uint32
}

// IsZero reports whether e describes an absent group.
func (e Entry) IsZero() bool {
	return e.Sector == 0
}

func (e Entry) marshal(b []byte) {
	putUint24(b, e.Length)
	putUint24(b[3:], e.Sector)
}

func unmarshalEntry(b []byte) Entry {
	return Entry{
		Length: uint24(b),
		Sector: uint24(b[3:]),
	}
}

// Index is a dense table of entries addressed by group id and backed by a
// single file. It is safe for concurrent use.
type Index struct {
	mtx sync.RWMutex

	path     string
	f        *os.File
	size     int64
	readOnly bool
}

// Open opens the index file at path, creating it if it does not exist and
// readOnly is not set.
func Open(path string, readOnly bool, perm fs.FileMode) (*Index, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("could not open index file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not stat index file: %w", err)
	}

	return &Index{
		path:     path,
		f:        f,
		size:     st.Size(),
		readOnly: readOnly,
	}, nil
}

// Path returns the path of the backing file.
func (x *Index) Path() string {
	return x.path
}

// Capacity returns the number of complete records in the index.
func (x *Index) Capacity() uint32 {
	x.mtx.RLock()
	defer x.mtx.RUnlock()

	return capacity(x.size)
}

func capacity(size int64) uint32 {
	n := size / EntrySize
	if n > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(n)
}

// Get returns the entry of the group. The boolean is false if the group is
// beyond the capacity of the index or its entry is zero.
func (x *Index) Get(group uint32) (Entry, bool, error) {
	x.mtx.RLock()
	defer x.mtx.RUnlock()

	pos := int64(group) * EntrySize
	if pos+EntrySize > x.size {
		return Entry{}, false, nil
	}

	var b [EntrySize]byte
	if _, err := x.f.ReadAt(b[:], pos); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, false, common.Errorf(common.ErrTruncatedStore, "index %s shrunk", x.path)
		}
		return Entry{}, false, fmt.Errorf("could not read index entry: %w", err)
	}

	e := unmarshalEntry(b[:])
	return e, !e.IsZero(), nil
}

// Put stores the entry of the group, growing the index with zero records if
// needed.
func (x *Index) Put(group uint32, e Entry) error {
	if e.Length > MaxLength || e.Sector > MaxSector {
		return common.Errorf(common.ErrOutOfRange, "entry %+v does not fit the index", e)
	}

	x.mtx.Lock()
	defer x.mtx.Unlock()

	return x.put(group, e)
}

func (x *Index) put(group uint32, e Entry) error {
	if x.readOnly {
		return common.ErrReadOnly
	}

	pos := int64(group) * EntrySize
	if end := pos + EntrySize; end > x.size {
		// Truncate zero-fills the tail, including a partial record
		if err := x.f.Truncate(end); err != nil {
			return fmt.Errorf("could not grow index: %w", err)
		}
		x.size = end
	}

	var b [EntrySize]byte
	e.marshal(b[:])

	if _, err := x.f.WriteAt(b[:], pos); err != nil {
		return fmt.Errorf("could not write index entry: %w", err)
	}

	return nil
}

// Remove zeroes the entry of the group. Removing an absent group is not an
// error.
func (x *Index) Remove(group uint32) error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	if x.readOnly {
		return common.ErrReadOnly
	}

	if int64(group)*EntrySize+EntrySize > x.size {
		return nil
	}

	return x.put(group, Entry{})
}

// Iterate calls f for every present group in ascending order. Returning an
// error from f stops iteration and that error is returned.
func (x *Index) Iterate(f func(group uint32, e Entry) error) error {
	x.mtx.RLock()
	defer x.mtx.RUnlock()

	var (
		buf   = make([]byte, listBatch*EntrySize)
		total = int64(capacity(x.size)) * EntrySize
		group uint32
	)

	for pos := int64(0); pos < total; {
		n := min(int64(len(buf)), total-pos)
		if _, err := x.f.ReadAt(buf[:n], pos); err != nil {
			return fmt.Errorf("could not read index: %w", err)
		}
		pos += n

		for off := int64(0); off < n; off += EntrySize {
			e := unmarshalEntry(buf[off:])
			if !e.IsZero() {
				if err := f(group, e); err != nil {
					return err
				}
			}
			group++
		}
	}

	return nil
}

// List returns ids of all present groups in ascending order.
func (x *Index) List() ([]uint32, error) {
	var groups []uint32

	err := x.Iterate(func(group uint32, _ Entry) error {
		groups = append(groups, group)
		return nil
	})

	return groups, err
}

// Sync commits the index file to stable storage.
func (x *Index) Sync() error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	if x.readOnly {
		return nil
	}
	return x.f.Sync()
}

// Close closes the backing file.
func (x *Index) Close() error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	return x.f.Close()
}

func uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
