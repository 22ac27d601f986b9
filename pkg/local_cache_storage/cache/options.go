package cache

import (
	"io/fs"
	"time"

	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/compression"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/keystore"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/manifest"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/masterindex"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/sectorstore"
	"go.uber.org/zap"
)

// Option represents Cache configuration option.
type Option func(*cfg)

// MetricsWriter is an interface that must store cache metrics.
type MetricsWriter interface {
	AddReadDuration(archive uint8, d time.Duration)
	AddWriteDuration(archive uint8, d time.Duration)
	IncChecksumMismatch(archive uint8)
	SetDataFileSize(size int64)
}

type noopMetrics struct{}

func (noopMetrics) AddReadDuration(uint8, time.Duration)  {}
func (noopMetrics) AddWriteDuration(uint8, time.Duration) {}
func (noopMetrics) IncChecksumMismatch(uint8)             {}
func (noopMetrics) SetDataFileSize(int64)                 {}

type cfg struct {
	log *zap.Logger

	// compression is tried against no compression for every written group.
	compression compression.Type
	keys        keystore.Provider
	metrics     MetricsWriter

	masterFormat masterindex.Format
	protocol     manifest.Protocol

	// manifestCacheSize is the number of decoded manifests kept in memory.
	manifestCacheSize int

	sectorFormat sectorstore.Format
	perm         fs.FileMode
	readOnly     bool
	syncWrites   bool
}

const defaultManifestCacheSize = 255

func defaultCfg() *cfg {
	return &cfg{
		log:               zap.L(),
		compression:       compression.Gzip,
		keys:              zeroKeys{},
		metrics:           noopMetrics{},
		masterFormat:      masterindex.FormatVersioned,
		protocol:          manifest.ProtocolSmart,
		manifestCacheSize: defaultManifestCacheSize,
		sectorFormat:      sectorstore.FormatNative,
	}
}

// WithLogger returns option to specify Cache's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l.With(zap.String("component", "Cache"))
	}
}

// WithCompression returns option to set the compression written groups are
// compared against. Groups compressed with it are stored only if they are
// smaller than uncompressed ones.
func WithCompression(t compression.Type) Option {
	return func(c *cfg) {
		c.compression = t
	}
}

// WithKeys returns option to set the provider of XTEA keys.
func WithKeys(p keystore.Provider) Option {
	return func(c *cfg) {
		c.keys = p
	}
}

// WithMetrics returns option to set the metrics writer.
func WithMetrics(m MetricsWriter) Option {
	return func(c *cfg) {
		c.metrics = m
	}
}

// WithMasterIndexFormat returns option to set the master index format.
func WithMasterIndexFormat(f masterindex.Format) Option {
	return func(c *cfg) {
		c.masterFormat = f
	}
}

// WithProtocol returns option to set the protocol of newly created archive
// manifests. Existing manifests keep their protocol.
func WithProtocol(p manifest.Protocol) Option {
	return func(c *cfg) {
		c.protocol = p
	}
}

// WithManifestCacheSize returns option to limit the number of decoded
// archive manifests kept in memory.
func WithManifestCacheSize(n int) Option {
	return func(c *cfg) {
		c.manifestCacheSize = n
	}
}

// WithSectorFormat returns option to set the sector format of created
// stores and of opened stores without a layout file.
func WithSectorFormat(f sectorstore.Format) Option {
	return func(c *cfg) {
		c.sectorFormat = f
	}
}

// WithPermissions returns option to set permission bits of created files.
func WithPermissions(perm fs.FileMode) Option {
	return func(c *cfg) {
		c.perm = perm
	}
}

// WithReadOnly returns option to open the cache in read-only mode.
func WithReadOnly(ro bool) Option {
	return func(c *cfg) {
		c.readOnly = ro
	}
}

// WithSyncWrites returns option to make every write durable before it
// returns.
func WithSyncWrites(sync bool) Option {
	return func(c *cfg) {
		c.syncWrites = sync
	}
}
