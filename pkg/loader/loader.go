// Package loader reads stackvm programs from storage.
//
// A program file is raw bytecode with no header. Files that begin with the
// zstd frame magic are decompressed first; 0x28 is not an opcode, so a raw
// program is never mistaken for a compressed one.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the little-endian zstd frame magic number 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DefaultMaxSize bounds the size of a loaded program.
const DefaultMaxSize = 16 << 20 // 16 MiB

// Loader errors.
var (
	ErrNotFound            = errors.New("program file not found")
	ErrTooLarge            = errors.New("program too large")
	ErrDecompressionFailed = errors.New("decompression failed")
	ErrCompressed          = errors.New("compressed program not allowed")
)

// Config configures a Loader.
type Config struct {
	// MaxSize is the maximum program size in bytes, after decompression.
	MaxSize int64

	// AllowCompressed enables transparent zstd decompression.
	AllowCompressed bool
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:         DefaultMaxSize,
		AllowCompressed: true,
	}
}

// Loader reads programs.
type Loader struct {
	config Config
}

// New creates a loader.
func New(config Config) *Loader {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	return &Loader{config: config}
}

// LoadFile reads the program stored at path.
func (l *Loader) LoadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	prog, err := l.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return prog, nil
}

// Load reads a program from r.
func (l *Loader) Load(r io.Reader) ([]byte, error) {
	// Read one byte past the limit to detect oversized input.
	data, err := io.ReadAll(io.LimitReader(r, l.config.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	if int64(len(data)) > l.config.MaxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.config.MaxSize)
	}
	return l.Decode(data)
}

// Decode returns the program held in data, decompressing it if needed.
func (l *Loader) Decode(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		if int64(len(data)) > l.config.MaxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
		}
		return data, nil
	}
	if !l.config.AllowCompressed {
		return nil, ErrCompressed
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer dec.Close()

	prog, err := io.ReadAll(io.LimitReader(dec, l.config.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if int64(len(prog)) > l.config.MaxSize {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", ErrTooLarge, l.config.MaxSize)
	}
	return prog, nil
}

// IsCompressed reports whether data starts with a zstd frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Compress encodes a program as a single zstd frame.
func Compress(prog []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(prog, nil), nil
}
