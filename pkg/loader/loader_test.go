package loader

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testProgram = []byte{
	0x10, 0x00, 0x00, 0x00, 0x03, // PUSH_CONST 3
	0x10, 0x00, 0x00, 0x00, 0x05, // PUSH_CONST 5
	0x31, // SUB
	0x00, // HALT
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// TestLoadFileRaw tests loading an uncompressed program.
func TestLoadFileRaw(t *testing.T) {
	path := writeFile(t, "prog.bin", testProgram)

	got, err := New(DefaultConfig()).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if !bytes.Equal(got, testProgram) {
		t.Errorf("LoadFile() = % x, want % x", got, testProgram)
	}
}

// TestLoadFileCompressed tests transparent zstd decompression.
func TestLoadFileCompressed(t *testing.T) {
	compressed, err := Compress(testProgram)
	if err != nil {
		t.Fatalf("Compress() failed: %v", err)
	}
	if !IsCompressed(compressed) {
		t.Fatal("Compress() output lacks the zstd magic")
	}
	path := writeFile(t, "prog.bin.zst", compressed)

	got, err := New(DefaultConfig()).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if !bytes.Equal(got, testProgram) {
		t.Errorf("LoadFile() = % x, want % x", got, testProgram)
	}

	cfg := DefaultConfig()
	cfg.AllowCompressed = false
	if _, err := New(cfg).LoadFile(path); !errors.Is(err, ErrCompressed) {
		t.Errorf("LoadFile() = %v, want ErrCompressed", err)
	}
}

// TestLoadFileMissing tests the missing-file diagnostic.
func TestLoadFileMissing(t *testing.T) {
	_, err := New(DefaultConfig()).LoadFile(filepath.Join(t.TempDir(), "nope.bin"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadFile() = %v, want ErrNotFound", err)
	}
}

// TestLoadTooLarge tests the size limit for raw and compressed input.
func TestLoadTooLarge(t *testing.T) {
	l := New(Config{MaxSize: 8, AllowCompressed: true})

	if _, err := l.Load(bytes.NewReader(testProgram)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Load() raw = %v, want ErrTooLarge", err)
	}

	compressed, err := Compress(make([]byte, 64))
	if err != nil {
		t.Fatalf("Compress() failed: %v", err)
	}
	if _, err := l.Decode(compressed); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Decode() compressed = %v, want ErrTooLarge", err)
	}
}

// TestDecodeCorrupt tests a truncated zstd frame.
func TestDecodeCorrupt(t *testing.T) {
	data := append(append([]byte{}, zstdMagic...), 0x00, 0x01)
	if _, err := New(DefaultConfig()).Decode(data); !errors.Is(err, ErrDecompressionFailed) {
		t.Errorf("Decode() = %v, want ErrDecompressionFailed", err)
	}
}

// TestLoadEmpty tests that an empty file is a valid, empty program.
func TestLoadEmpty(t *testing.T) {
	got, err := New(DefaultConfig()).Load(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() returned %d bytes, want 0", len(got))
	}
}
