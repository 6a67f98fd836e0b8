// Package blobstore archives ingested bag files into durable secondary
// storage (local directory, MinIO or S3).
package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for writing and reading archived bag blobs.
type Store interface {
	// Put writes a blob. size is the content length in bytes, or -1
	// if unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}

// Archiver copies local bag files into a Store, keyed by their
// slash-separated path relative to the archive root.
type Archiver struct {
	store Store
	root  string
}

// NewArchiver creates an Archiver. Paths under root are archived under
// their relative path; paths outside root fall back to their base name.
func NewArchiver(store Store, root string) *Archiver {
	return &Archiver{store: store, root: root}
}

// Archive uploads the file at path.
func (a *Archiver) Archive(ctx context.Context, path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: path is an ingested bag file
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	return a.store.Put(ctx, a.key(path), f, st.Size())
}

func (a *Archiver) key(path string) string {
	if a.root != "" {
		if rel, err := filepath.Rel(a.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
