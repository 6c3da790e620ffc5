// Package archive streams every primary-store record of a scope into a
// compressed export blob, and restores such blobs. Exports run before
// administrative delete-all-for-scope so revoked tenants remain
// recoverable.
package archive

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an export blob does not exist.
var ErrNotFound = errors.New("archive: not found")

// Store is an archive destination. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put streams a blob under the given name, overwriting any previous
	// blob of that name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens a blob for reading, or reports ErrNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting an absent blob is a no-op.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
