package cache

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/container"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/sectorstore"
	"github.com/nspcc-dev/js5cache/pkg/util"
	"go.uber.org/zap"
)

// Verify checks the stored manifest of the archive against the master index
// and every stored group against the manifest. Damaged or missing data makes
// it return false, errors are returned for failures to read the store only.
func (c *Cache) Verify(archive uint8) (bool, error) {
	if err := checkArchive(archive); err != nil {
		return false, err
	}

	c.views[archive].RLock()
	defer c.views[archive].RUnlock()

	raw, err := c.store.ReadGroup(sectorstore.MetaArchive, uint32(archive))
	if err != nil {
		if isCorruption(err) {
			c.log.Debug("archive manifest is unreadable",
				zap.Uint8("archive", archive), zap.Error(err))
			return false, nil
		}
		return false, err
	}

	c.masterMtx.RLock()
	master := c.master
	c.masterMtx.RUnlock()

	if !master.Verify(archive, raw) {
		return false, nil
	}

	m, err := decodeManifest(raw)
	if err != nil {
		c.log.Debug("archive manifest is malformed",
			zap.Uint8("archive", archive), zap.Error(err))
		return false, nil
	}

	for i := range m.Groups {
		g := &m.Groups[i]

		raw, err := c.store.ReadGroup(archive, g.ID)
		if err != nil {
			if isCorruption(err) {
				c.log.Debug("group is unreadable",
					zap.Uint8("archive", archive), zap.Uint32("group", g.ID), zap.Error(err))
				return false, nil
			}
			return false, err
		}

		body, version, hasVersion, err := container.StripVersion(raw)
		if err != nil ||
			hasVersion && version != uint16(g.Version) ||
			len(storedMismatches(m, g, body)) != 0 {
			return false, nil
		}

		if master.Format == masterindex.FormatVersioned && !master.VerifyGroup(archive, g.ID, body) {
			return false, nil
		}
	}

	return true, nil
}

// VerifyAll runs Verify for every archive of the master index in the pool
// and returns ids of archives that failed, in ascending order.
func (c *Cache) VerifyAll(pool util.WorkerPool) ([]uint8, error) {
	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		failed   []uint8
		firstErr error
	)

	for _, archive := range c.Archives() {
		wg.Add(1)

		err := pool.Submit(func() {
			defer wg.Done()

			ok, err := c.Verify(archive)

			mtx.Lock()
			defer mtx.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("archive %d: %w", archive, err)
				}
				return
			}
			if !ok {
				failed = append(failed, archive)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("could not submit verification of archive %d: %w", archive, err)
		}
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	slices.Sort(failed)

	return failed, nil
}
