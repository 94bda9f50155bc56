// Package storage reads dataset files from an object store so they can be
// imported without passing through the client.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectSource is a read-only view of the objects a dataset can be imported
// from. Keys are relative to the source's configured prefix.
type ObjectSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the importable objects, ordered by key.
	List(ctx context.Context) ([]ObjectInfo, error)
	Ping(ctx context.Context) error
}

var importableExtensions = map[string]struct{}{
	".csv":     {},
	".txt":     {},
	".parquet": {},
	".pq":      {},
}

// Importable reports whether key names a file the dataset loader accepts.
func Importable(key string) bool {
	_, ok := importableExtensions[strings.ToLower(path.Ext(key))]
	return ok
}
