package filestore

import (
	"io"
)

// FileStore stores file content addressed by its SHA-256 hash.
type FileStore interface {
	// Save writes the content and returns its hash and size. Saving the same
	// content twice is idempotent.
	Save(r io.Reader) (hash string, size int64, err error)

	// Get retrieves the file content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
