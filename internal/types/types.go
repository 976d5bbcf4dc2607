// Package types defines identity types shared across stackvm packages.
//
// A ProgramID is the 32-byte digest of a program's bytes. Because execution is
// a pure function of those bytes, the ID doubles as a cache key for results.
// Its text form is base58.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// ProgramIDSize is the size of a program digest in bytes.
const ProgramIDSize = 32

var (
	// ErrInvalidProgramID is returned when an ID has the wrong length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")

	// ErrUnknownHash is returned for an unsupported digest algorithm.
	ErrUnknownHash = errors.New("unknown hash algorithm")
)

// HashAlgorithm selects the digest used for program IDs.
type HashAlgorithm string

const (
	HashBlake3  HashAlgorithm = "blake3"
	HashSHA3256 HashAlgorithm = "sha3-256"
)

// DefaultHash is used when no algorithm is configured.
const DefaultHash = HashBlake3

// ParseHashAlgorithm validates a configured algorithm name.
// The empty string selects DefaultHash.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(s) {
	case "":
		return DefaultHash, nil
	case HashBlake3, HashSHA3256:
		return HashAlgorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHash, s)
	}
}

// ProgramID identifies a program by the digest of its bytes.
type ProgramID [ProgramIDSize]byte

// NewProgramID digests program with alg.
func NewProgramID(program []byte, alg HashAlgorithm) (ProgramID, error) {
	switch alg {
	case HashBlake3, "":
		return blake3.Sum256(program), nil
	case HashSHA3256:
		return sha3.Sum256(program), nil
	default:
		return ProgramID{}, fmt.Errorf("%w: %q", ErrUnknownHash, alg)
	}
}

// ProgramIDFromBase58 parses a base58-encoded program ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	return ProgramIDFromBytes(data)
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// Hex returns the hex-encoded representation.
func (id ProgramID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
