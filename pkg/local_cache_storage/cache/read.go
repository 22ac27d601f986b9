package cache

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/container"
	groupcodec "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/group"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/manifest"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
)

// Read returns the file of the group.
//
// If the stored group does not match its manifest entry, the decoded file is
// returned along with an error matching common.ErrChecksumMismatch.
func (c *Cache) Read(archive uint8, group uint32, file uint32) ([]byte, error) {
	g, files, err := c.read(archive, group)
	if files == nil {
		return nil, err
	}

	pos, ok := g.FilePosition(file)
	if !ok {
		return nil, common.Errorf(common.ErrFileIndexOutOfRange, "file %d of group %d/%d", file, archive, group)
	}

	return files[pos], err
}

// ReadNamed returns the file looked up by the name hashes of the group and
// the file.
func (c *Cache) ReadNamed(archive uint8, groupName string, fileName string) ([]byte, error) {
	if err := checkArchive(archive); err != nil {
		return nil, err
	}

	c.views[archive].RLock()
	m, err := c.manifest(archive)
	c.views[archive].RUnlock()
	if err != nil {
		return nil, err
	}

	g, ok := m.GroupByName(manifest.NameHash(groupName))
	if !ok {
		return nil, fmt.Errorf("group %q of archive %d: %w", groupName, archive, common.ErrNotFound)
	}

	file, ok := g.FileByName(manifest.NameHash(fileName))
	if !ok {
		return nil, fmt.Errorf("file %q of group %d/%d: %w", fileName, archive, g.ID, common.ErrNotFound)
	}

	return c.Read(archive, g.ID, file)
}

// ReadGroup returns all files of the group. Checksum mismatches are reported
// as in Read.
func (c *Cache) ReadGroup(archive uint8, group uint32) (*Group, error) {
	g, files, err := c.read(archive, group)
	if files == nil {
		return nil, err
	}

	res := &Group{
		ID:       g.ID,
		NameHash: g.NameHash,
		Version:  g.Version,
		Files:    make([]File, len(files)),
	}
	for i := range files {
		res.Files[i] = File{
			ID:       g.Files[i].ID,
			NameHash: g.Files[i].NameHash,
			Data:     files[i],
		}
	}

	return res, err
}

// RawGroup returns the stored bytes of the group as is, including the
// version trailer. Unlike other reads it accepts the meta archive.
func (c *Cache) RawGroup(archive uint8, group uint32) ([]byte, error) {
	if archive <= MaxArchive {
		c.views[archive].RLock()
		defer c.views[archive].RUnlock()
	}

	return c.store.ReadGroup(archive, group)
}

// read decodes the group and splits it into files. Files are returned even
// with a checksum mismatch error.
func (c *Cache) read(archive uint8, group uint32) (*manifest.Group, [][]byte, error) {
	if err := checkArchive(archive); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	defer func() {
		c.metrics.AddReadDuration(archive, time.Since(start))
	}()

	c.views[archive].RLock()
	m, err := c.manifest(archive)
	if err != nil {
		c.views[archive].RUnlock()
		return nil, nil, err
	}

	g, ok := m.Group(group)
	if !ok {
		c.views[archive].RUnlock()
		return nil, nil, fmt.Errorf("group %d/%d: %w", archive, group, common.ErrNotFound)
	}

	raw, err := c.store.ReadGroup(archive, group)
	c.views[archive].RUnlock()
	if err != nil {
		return nil, nil, err
	}

	key, err := c.key(archive, group)
	if err != nil {
		return nil, nil, err
	}

	body, version, hasVersion, err := container.StripVersion(raw)
	if err != nil {
		return nil, nil, err
	}

	var mismatches []string
	if hasVersion && version != uint16(g.Version) {
		mismatches = append(mismatches, fmt.Sprintf("version %d, expected %d", version, uint16(g.Version)))
	}
	mismatches = append(mismatches, storedMismatches(m, g, body)...)

	ct, err := container.Decode(body, key)
	if err != nil {
		return nil, nil, fmt.Errorf("group %d/%d: %w", archive, group, err)
	}

	if m.HasLengths && uint32(len(ct.Data)) != g.UncompressedLength {
		mismatches = append(mismatches, fmt.Sprintf("uncompressed length %d, expected %d", len(ct.Data), g.UncompressedLength))
	}
	if m.HasUncompressedChecksums && crc32.ChecksumIEEE(ct.Data) != g.UncompressedChecksum {
		mismatches = append(mismatches, "uncompressed checksum")
	}

	files, err := groupcodec.Split(ct.Data, len(g.Files))
	if err != nil {
		return nil, nil, fmt.Errorf("group %d/%d: %w", archive, group, err)
	}

	if len(mismatches) != 0 {
		c.metrics.IncChecksumMismatch(archive)
		err = common.Errorf(common.ErrChecksumMismatch, "group %d/%d: %s", archive, group, strings.Join(mismatches, ", "))
	}

	return g, files, err
}

// storedMismatches compares the stored container without the version
// trailer against its manifest entry.
func storedMismatches(m *manifest.Index, g *manifest.Group, body []byte) []string {
	var res []string

	if masterindex.Checksum(body) != g.Checksum {
		res = append(res, "checksum")
	}
	if m.HasLengths && uint32(len(body)) != g.Length {
		res = append(res, fmt.Sprintf("length %d, expected %d", len(body), g.Length))
	}
	if len(g.Digest) != 0 && !bytes.Equal(masterindex.Digest(body), g.Digest) {
		res = append(res, "digest")
	}

	return res
}

// isCorruption reports whether err describes damaged or missing stored data
// rather than a failure to access it.
func isCorruption(err error) bool {
	for _, kind := range []error{
		common.ErrNotFound,
		common.ErrCorruptSectorChain,
		common.ErrTruncatedStore,
		common.ErrDecompression,
		common.ErrInvalidManifest,
		common.ErrInvalidKeyOrCorruptData,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
