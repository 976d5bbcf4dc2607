package resultstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/stackvm/internal/types"
)

// Key format: prefixResult + program id (32 bytes)
var prefixResult = []byte{0x01}

// BadgerConfig holds badger options.
type BadgerConfig struct {
	// Path is the database directory.
	Path string

	// InMemory keeps all data in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// Logger is an optional logger. Nil disables badger's logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns the default badger configuration.
func DefaultBadgerConfig(path string, syncWrites bool) BadgerConfig {
	return BadgerConfig{
		Path:          path,
		SyncWrites:    syncWrites,
		NumCompactors: 2,
	}
}

// BadgerStore is a Store backed by a badger directory.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens or creates a badger result store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger store: empty path")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func resultKey(id types.ProgramID) []byte {
	key := make([]byte, 0, len(prefixResult)+types.ProgramIDSize)
	key = append(key, prefixResult...)
	return append(key, id[:]...)
}

// Get retrieves the record for id.
func (b *BadgerStore) Get(id types.ProgramID) (*Record, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			rec, derr = DeserializeRecord(val)
			return derr
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores a record.
func (b *BadgerStore) Put(record *Record) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(record.ProgramID), record.Serialize())
	})
}

// Has reports whether a record exists for id.
func (b *BadgerStore) Has(id types.ProgramID) bool {
	if b.closed.Load() {
		return false
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(resultKey(id))
		return err
	})
	return err == nil
}

// Delete removes the record for id.
func (b *BadgerStore) Delete(id types.ProgramID) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(resultKey(id))
	})
}

// Count returns the number of stored records.
func (b *BadgerStore) Count() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}

	var n uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixResult
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}
