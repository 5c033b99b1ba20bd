package storage

import (
	"context"
	"io"
)

// Engine defines the interface for content-addressed blob backends.
type Engine interface {
	// Put stores the bytes read from r and takes one reference on the
	// resulting blob. Identical content is stored once.
	Put(ctx context.Context, r io.Reader) (BlobInfo, error)

	// Open returns a reader over the blob's bytes.
	Open(hash string) (io.ReadCloser, int64, error)

	// Fetch reads the whole blob into memory.
	Fetch(hash string) ([]byte, error)

	// Retain takes an additional reference on an existing blob.
	Retain(hash string) error

	// Release drops one reference and removes the blob at zero.
	Release(hash string) error

	// RefCount reports the live reference count, 0 if unknown.
	RefCount(hash string) int64

	// Stats
	Stats() Stats
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Hash string
	Size int64
}

// Stats summarizes the blob population.
type Stats struct {
	Blobs int64
	Bytes int64
}
