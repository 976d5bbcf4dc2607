// Package resultstore caches program results by ProgramID.
//
// Execution is a pure function of a program's bytes, so a result computed
// once can be served again without running the program. Three backends
// implement Store:
//   - memory: a map, for tests and short-lived processes
//   - bolt:   a single bbolt file
//   - badger: a badger directory, for large caches
//
// Only successful results are stored. Failed runs are reproduced by running
// the program again.
package resultstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/stackvm/internal/types"
)

var (
	// ErrNotFound is returned when no result is stored for a program.
	ErrNotFound = errors.New("result not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("result store closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown result store backend")

	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("result record corrupted")
)

// Backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Record is a cached execution result.
type Record struct {
	ProgramID   types.ProgramID
	Result      int32
	Steps       uint64
	ProgramSize int
	StoredAt    time.Time
}

// recordSize is the serialized size of a Record.
// Format: id (32) + result (4) + steps (8) + program_size (8) + stored_at (8)
const recordSize = types.ProgramIDSize + 4 + 8 + 8 + 8

// Serialize encodes the record for storage.
func (r *Record) Serialize() []byte {
	buf := make([]byte, recordSize)
	off := copy(buf, r.ProgramID[:])
	binary.BigEndian.PutUint32(buf[off:], uint32(r.Result))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], r.Steps)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.ProgramSize))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.StoredAt.UnixNano()))
	return buf
}

// DeserializeRecord decodes a record produced by Serialize.
func DeserializeRecord(data []byte) (*Record, error) {
	if len(data) != recordSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrCorrupted, len(data), recordSize)
	}
	r := &Record{}
	off := copy(r.ProgramID[:], data)
	r.Result = int32(binary.BigEndian.Uint32(data[off:]))
	off += 4
	r.Steps = binary.BigEndian.Uint64(data[off:])
	off += 8
	r.ProgramSize = int(binary.BigEndian.Uint64(data[off:]))
	off += 8
	r.StoredAt = time.Unix(0, int64(binary.BigEndian.Uint64(data[off:]))).UTC()
	return r, nil
}

// Store is the result cache interface. Implementations are safe for
// concurrent use.
type Store interface {
	Get(id types.ProgramID) (*Record, error)
	Put(record *Record) error
	Has(id types.ProgramID) bool
	Delete(id types.ProgramID) error
	Count() (uint64, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of none, memory, bolt or badger.
	Backend string

	// Path is the bolt file or badger directory.
	Path string

	// SyncWrites fsyncs after every write.
	SyncWrites bool
}

// DefaultConfig returns a configuration without persistence.
func DefaultConfig() Config {
	return Config{
		Backend: BackendNone,
	}
}

// Open creates the configured store. It returns a nil Store for the none backend.
func Open(config Config) (Store, error) {
	switch config.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		return OpenBolt(DefaultBoltConfig(config.Path, config.SyncWrites))
	case BackendBadger:
		return OpenBadger(DefaultBadgerConfig(config.Path, config.SyncWrites))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
	}
}
