package filestore

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLocalFileStore(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore failed: %v", err)
	}

	content := []byte("some image bytes")
	hash, size, err := store.Save(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}
	if len(hash) != 64 {
		t.Errorf("expected hex sha256 hash, got %q", hash)
	}

	// Saving the same content again is idempotent and yields the same hash.
	hash2, _, err := store.Save(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if hash2 != hash {
		t.Errorf("expected identical hash, got %q and %q", hash, hash2)
	}

	r, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %q", got)
	}

	if _, err := store.Get(strings.Repeat("0", 64)); err == nil {
		t.Error("expected error for unknown hash")
	}
}
