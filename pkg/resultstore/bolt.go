package resultstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/stackvm/internal/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// bucketResults stores serialized records keyed by program ID.
	bucketResults = []byte("results")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")

	keyFormatVersion = []byte("format_version")
)

// formatVersion is bumped whenever the record layout changes.
const formatVersion = 1

// BoltConfig holds bbolt options.
type BoltConfig struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// DefaultBoltConfig returns the default bbolt configuration.
func DefaultBoltConfig(path string, syncWrites bool) BoltConfig {
	return BoltConfig{
		Path:    path,
		NoSync:  !syncWrites,
		Timeout: 5 * time.Second,
	}
}

// BoltStore is a Store backed by a single bbolt file.
type BoltStore struct {
	db     *bolt.DB
	mu     sync.RWMutex
	closed bool
}

// OpenBolt opens or creates a bbolt result store.
func OpenBolt(config BoltConfig) (*BoltStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("bolt store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{db: db}
	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketResults); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketResults, err)
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMetadata)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketMetadata, err)
		}
		if v := meta.Get(keyFormatVersion); v != nil {
			if len(v) != 1 || v[0] != formatVersion {
				return fmt.Errorf("%w: format version %v", ErrCorrupted, v)
			}
			return nil
		}
		return meta.Put(keyFormatVersion, []byte{formatVersion})
	})
}

// Get retrieves the record for id.
func (s *BoltStore) Get(id types.ProgramID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(id[:])
		if data == nil {
			return ErrNotFound
		}
		var err error
		rec, err = DeserializeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores a record.
func (s *BoltStore) Put(record *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Put(record.ProgramID[:], record.Serialize())
	})
}

// Has reports whether a record exists for id.
func (s *BoltStore) Has(id types.ProgramID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	found := false
	s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketResults); b != nil {
			found = b.Get(id[:]) != nil
		}
		return nil
	})
	return found
}

// Delete removes the record for id.
func (s *BoltStore) Delete(id types.ProgramID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Delete(id[:])
	})
}

// Count returns the number of stored records.
func (s *BoltStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketResults); b != nil {
			n = uint64(b.Stats().KeyN)
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
