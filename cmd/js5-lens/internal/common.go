package common

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/cache"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/compression"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/keystore"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/sectorstore"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Errf returns formatted error in errFmt format if err is not nil.
func Errf(errFmt string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf(errFmt, err)
}

// NewLogger returns a console logger, debug level is enabled by the debug
// setting.
func NewLogger() (*zap.Logger, error) {
	c := zap.NewProductionConfig()
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.Sampling = nil
	c.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if cast.ToBool(viper.Get(DebugKey)) {
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	return c.Build()
}

// OpenKeys opens the configured key store. It returns nil if no key store is
// configured.
func OpenKeys(readOnly bool) (*keystore.Bolt, error) {
	p, err := path(KeysKey)
	if err != nil || p == "" {
		return nil, err
	}

	log, err := NewLogger()
	if err != nil {
		return nil, err
	}

	ks := keystore.New(
		keystore.WithPath(p),
		keystore.WithReadOnly(readOnly),
		keystore.WithLogger(log),
	)
	if err := ks.Open(); err != nil {
		return nil, fmt.Errorf("could not open key store: %w", err)
	}

	return ks, nil
}

// Cache is an opened cache with its key store.
type Cache struct {
	*cache.Cache

	keys *keystore.Bolt
}

// Close closes the cache and the key store.
func (c *Cache) Close() error {
	err := c.Cache.Close()
	if c.keys != nil {
		err = errors.Join(err, c.keys.Close())
	}
	return err
}

// OpenCache opens the configured cache. With create set, a missing cache is
// initialized.
func OpenCache(readOnly bool, create bool, extra ...cache.Option) (*Cache, error) {
	root, err := path(PathKey)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("cache path is not set, use --%s or the %q setting", PathKey, PathKey)
	}

	log, err := NewLogger()
	if err != nil {
		return nil, err
	}

	opts := []cache.Option{
		cache.WithLogger(log),
		cache.WithReadOnly(readOnly),
	}

	if s := cast.ToString(viper.Get(CompressionKey)); s != "" {
		t, err := compression.Parse(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithCompression(t))
	}

	if s := cast.ToString(viper.Get(SectorFormatKey)); s != "" {
		f, err := sectorstore.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithSectorFormat(f))
	}

	if s := cast.ToString(viper.Get(MasterIndexFormatKey)); s != "" {
		f, err := masterindex.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithMasterIndexFormat(f))
	}

	keys, err := OpenKeys(readOnly)
	if err != nil {
		return nil, err
	}
	if keys != nil {
		opts = append(opts, cache.WithKeys(keys))
	}

	opts = append(opts, extra...)

	c, err := cache.Open(root, opts...)
	if create && errors.Is(err, os.ErrNotExist) {
		c, err = cache.Create(root, opts...)
	}
	if err != nil {
		if keys != nil {
			_ = keys.Close()
		}
		return nil, fmt.Errorf("could not open cache: %w", err)
	}

	return &Cache{Cache: c, keys: keys}, nil
}

// WriteToFile writes data to the file or to the command output if name is
// empty.
func WriteToFile(cmd *cobra.Command, name string, data []byte) error {
	if name == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("could not write file: %w", err)
	}

	cmd.Printf("Saved %d bytes to %s\n", len(data), name)
	return nil
}

// ReadFile reads the file or the command input if name is "-".
func ReadFile(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("could not read file: %w", err)
	}
	return data, nil
}
