package keystore

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/nspcc-dev/js5cache/pkg/util"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var keysBucket = []byte("xtea")

const (
	addressSize = 5
	keySize     = 16
)

// Bolt is a Provider persisting keys in a BoltDB file.
type Bolt struct {
	*cfg

	db *bbolt.DB
}

// Option is an option of Bolt's constructor.
type Option func(*cfg)

type cfg struct {
	path string
	perm fs.FileMode

	readOnly    bool
	boltOptions *bbolt.Options

	log *zap.Logger
}

func defaultCfg() *cfg {
	return &cfg{
		perm: 0o600,
		boltOptions: &bbolt.Options{
			Timeout: 100 * time.Millisecond,
		},
		log: zap.L(),
	}
}

// New returns a key store with the given options. It must be opened before
// use.
func New(opts ...Option) *Bolt {
	c := defaultCfg()

	for i := range opts {
		opts[i](c)
	}

	return &Bolt{cfg: c}
}

// WithPath returns option to set the database file path.
func WithPath(path string) Option {
	return func(c *cfg) {
		c.path = path
	}
}

// WithPermissions returns option to set permission bits of the database
// file.
func WithPermissions(perm fs.FileMode) Option {
	return func(c *cfg) {
		c.perm = perm
	}
}

// WithReadOnly returns option to open the database in read-only mode.
func WithReadOnly(ro bool) Option {
	return func(c *cfg) {
		c.readOnly = ro
	}
}

// WithLogger returns option to specify the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l.With(zap.String("component", "KeyStore"))
	}
}

// Open opens the database, creating it and its bucket if needed.
func (b *Bolt) Open() error {
	b.log.Debug("opening BoltDB",
		zap.String("path", b.path),
		zap.Stringer("permissions", b.perm),
		zap.Bool("read-only", b.readOnly),
	)

	if !b.readOnly {
		if err := util.MkdirAllX(filepath.Dir(b.path), b.perm|0o700); err != nil {
			return fmt.Errorf("could not create key store directory: %w", err)
		}
	}

	opts := *b.boltOptions
	opts.ReadOnly = b.readOnly

	db, err := bbolt.Open(b.path, b.perm, &opts)
	if err != nil {
		return fmt.Errorf("could not open key store: %w", err)
	}

	if !b.readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(keysBucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("could not create key bucket: %w", err)
		}
	}

	b.db = db

	return nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	b.log.Debug("closing BoltDB", zap.String("path", b.path))

	return b.db.Close()
}

func addressKey(archive uint8, group uint32) []byte {
	k := make([]byte, addressSize)
	k[0] = archive
	binary.BigEndian.PutUint32(k[1:], group)
	return k
}

func marshalKey(key xtea.Key) []byte {
	v := make([]byte, 0, keySize)
	for _, w := range key {
		v = binary.BigEndian.AppendUint32(v, w)
	}
	return v
}

func unmarshalKey(v []byte) (xtea.Key, error) {
	var key xtea.Key
	if len(v) != keySize {
		return key, fmt.Errorf("invalid key length %d", len(v))
	}
	for i := range key {
		key[i] = binary.BigEndian.Uint32(v[i*4:])
	}
	return key, nil
}

// Key implements Provider.
func (b *Bolt) Key(archive uint8, group uint32) (xtea.Key, error) {
	var (
		key xtea.Key
		err error
	)

	viewErr := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(keysBucket)
		if bkt == nil {
			return nil
		}

		if v := bkt.Get(addressKey(archive, group)); v != nil {
			key, err = unmarshalKey(v)
		}
		return nil
	})
	if viewErr != nil {
		return key, fmt.Errorf("could not read key: %w", viewErr)
	}

	return key, err
}

// Put sets the key of the group. Putting the zero key deletes it.
func (b *Bolt) Put(archive uint8, group uint32, key xtea.Key) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(keysBucket)
		if key.IsZero() {
			return bkt.Delete(addressKey(archive, group))
		}
		return bkt.Put(addressKey(archive, group), marshalKey(key))
	})
}

// Iterate calls f for every stored key ordered by archive and group.
func (b *Bolt) Iterate(f func(archive uint8, group uint32, key xtea.Key) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(keysBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(k, v []byte) error {
			if len(k) != addressSize {
				return fmt.Errorf("invalid address length %d", len(k))
			}

			key, err := unmarshalKey(v)
			if err != nil {
				return err
			}

			return f(k[0], binary.BigEndian.Uint32(k[1:]), key)
		})
	})
}
