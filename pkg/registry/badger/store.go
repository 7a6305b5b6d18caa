// Package badger persists the MOUNT table in BadgerDB so DUMP keeps
// reporting clients across daemon restarts.
package badger

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/souravgh/unfs2go/pkg/registry"
)

// Key layout:
//
//	m:<host>\x00<directory>  ->  mountRecord (JSON)
const mountPrefix = "m:"

type mountRecord struct {
	Host      string `json:"host"`
	Directory string `json:"directory"`
}

func keyMount(m registry.Mount) []byte {
	return []byte(mountPrefix + m.Host + "\x00" + m.Directory)
}

// Config configures the mount table database.
type Config struct {
	// Path is the database directory. Empty means an in-memory database.
	Path string `mapstructure:"path"`
}

// Store is a registry.MountStore backed by BadgerDB.
type Store struct {
	db *badger.DB
}

var _ registry.MountStore = (*Store)(nil)

// Open opens or creates the mount table.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open mount table at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(m registry.Mount) error {
	data, err := json.Marshal(mountRecord{Host: m.Host, Directory: m.Directory})
	if err != nil {
		return fmt.Errorf("failed to marshal mount entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMount(m), data)
	})
}

func (s *Store) Delete(m registry.Mount) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyMount(m))
	})
}

func (s *Store) List() ([]registry.Mount, error) {
	var out []registry.Mount
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(mountPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec mountRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode mount entry %q: %w", it.Item().Key(), err)
			}
			out = append(out, registry.Mount{Host: rec.Host, Directory: rec.Directory})
		}
		return nil
	})
	return out, err
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
