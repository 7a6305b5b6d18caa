// Package badger persists file-handle to path associations in BadgerDB so
// handles given out before a restart resolve without a tree walk.
package badger

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/souravgh/unfs2go/pkg/fhcache"
)

// Key layout: "h:" + 60 raw handle bytes -> path.
const handlePrefix = "h:"

func keyHandle(h fhcache.Handle) []byte {
	key := make([]byte, 0, len(handlePrefix)+fhcache.Size)
	key = append(key, handlePrefix...)
	return append(key, h[:]...)
}

// Config configures the handle index.
type Config struct {
	// Path is the database directory. Empty means an in-memory database.
	Path string `mapstructure:"path"`
}

// Index is a fhcache.Index stored in BadgerDB.
type Index struct {
	db *badger.DB
}

var _ fhcache.Index = (*Index)(nil)

// Open opens or creates the index database.
func Open(cfg Config) (*Index, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithBlockCacheSize(16 << 20)
	opts = opts.WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open handle index at %s: %w", cfg.Path, err)
	}
	return &Index{db: db}, nil
}

func (i *Index) Lookup(h fhcache.Handle) (string, bool, error) {
	var p string
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHandle(h))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			p = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

func (i *Index) Store(h fhcache.Handle, p string) error {
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyHandle(h), []byte(p))
	})
}

func (i *Index) Delete(h fhcache.Handle) error {
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyHandle(h))
	})
}

// Len counts stored handles.
func (i *Index) Len() (int, error) {
	n := 0
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(handlePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close flushes and closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}
