package sectorstore

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"gopkg.in/yaml.v3"
)

// LayoutFileName is the name of the file recording the sector format and
// the attributes of a store. The client does not write it, stores without
// it use the configured format.
const LayoutFileName = "store.yml"

type layoutFile struct {
	Format     string            `yaml:"format"`
	SectorSize int               `yaml:"sector_size"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

func writeLayout(root string, f Format, attrs map[string]string, perm fs.FileMode) error {
	data, err := yaml.Marshal(layoutFile{
		Format:     f.String(),
		SectorSize: f.SectorSize(),
		Attributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("could not marshal layout: %w", err)
	}

	return os.WriteFile(filepath.Join(root, LayoutFileName), data, perm)
}

// readLayout returns the recorded format and attributes. The boolean is
// false if the store has no layout file.
func readLayout(root string) (Format, map[string]string, bool, error) {
	data, err := os.ReadFile(filepath.Join(root, LayoutFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("could not read layout: %w", err)
	}

	var l layoutFile
	if err := yaml.Unmarshal(data, &l); err != nil {
		return 0, nil, false, fmt.Errorf("could not parse layout: %w", err)
	}

	f, err := ParseFormat(l.Format)
	if err != nil {
		return 0, nil, false, err
	}

	if l.SectorSize != 0 && l.SectorSize != f.SectorSize() {
		return 0, nil, false, fmt.Errorf("%s format uses %d-byte sectors, layout says %d", f, f.SectorSize(), l.SectorSize)
	}

	return f, l.Attributes, true, nil
}

// Attribute returns the value recorded under key in the layout file.
func (s *Store) Attribute(key string) (string, bool) {
	s.attrsMtx.RLock()
	defer s.attrsMtx.RUnlock()

	v, ok := s.attrs[key]
	return v, ok
}

// SetAttribute records the value under key in the layout file. Stores
// without a layout file get one.
func (s *Store) SetAttribute(key, value string) error {
	if s.cfg.ReadOnly {
		return common.ErrReadOnly
	}

	s.attrsMtx.Lock()
	defer s.attrsMtx.Unlock()

	if v, ok := s.attrs[key]; ok && v == value {
		return nil
	}

	attrs := maps.Clone(s.attrs)
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs[key] = value

	if err := writeLayout(s.cfg.Root, s.format, attrs, s.cfg.Permissions); err != nil {
		return err
	}

	s.attrs = attrs

	return nil
}
