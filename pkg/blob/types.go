package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete for keys that do not exist.
var ErrNotFound = errors.New("blob not found")

// BlobStore holds packet archives. Keys are slash separated.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
