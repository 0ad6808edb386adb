// Package backends provides hierarchical-namespace storage backends for hnsfs.
// It includes implementations for memory, local filesystem, S3 object storage and SQL databases.
package backends

import (
	"context"
	"io"

	"github.com/ebogdum/hnsfs/metadata"
)

// Storage defines the namespace operations every backend supports.
// Paths are absolute and already validated by the caller. Errors are the
// metadata sentinels (ErrNotFound, ErrAlreadyExists, ErrNotEmpty, ...) so
// they can be classified on every layer above.
type Storage interface {
	// ListDirectory returns the immediate children of a directory, sorted by name
	ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error)

	// CreateDirectory creates a directory and any missing ancestors.
	// It succeeds if the directory already exists.
	CreateDirectory(ctx context.Context, path string) error

	// Create writes a new file, creating missing parent directories.
	// With overwrite false an existing node yields ErrAlreadyExists.
	Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error

	// Append adds content after the current end of an existing file
	Append(ctx context.Context, path string, reader io.Reader) error

	// Open opens a file for sequential reading
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns the entry for a file or directory
	Stat(ctx context.Context, path string) (*metadata.Entry, error)

	// SetPermission replaces the octal permission string of a node
	SetPermission(ctx context.Context, path string, permission string) error

	// Concat replaces target with the contents of sources in order and removes the sources
	Concat(ctx context.Context, target string, sources []string) error

	// Rename moves a file or directory. An existing destination yields ErrAlreadyExists.
	Rename(ctx context.Context, source, destination string) error

	// Delete removes a node. Non-empty directories require recursive.
	Delete(ctx context.Context, path string, recursive bool) error

	// Close closes any resources used by the storage backend
	Close() error
}
