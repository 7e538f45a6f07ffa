package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is the storage abstraction segments are read from and written
// to. Segment files are immutable once written; stores never need to support
// in-place updates.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a new writable blob. The blob becomes visible to Open
	// only after a successful Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob.
	Delete(ctx context.Context, name string) error
	// List returns the names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to one immutable blob.
type Blob interface {
	// ReadAt reads len(p) bytes starting at off, following io.ReaderAt
	// semantics for short reads and io.EOF.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is an append-only handle for writing a new blob.
type WritableBlob interface {
	io.Writer
	io.Closer
	// Sync forces written data to durable storage where the backend
	// supports it.
	Sync() error
}

// Mappable is an optional interface for Blobs backed by memory-mapped files.
// Bytes is zero-copy; the slice is valid until the Blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}

// SectionReader adapts a Blob range to io.Reader for streaming decode paths.
func SectionReader(ctx context.Context, b Blob, off, length int64) io.Reader {
	return &sectionReader{ctx: ctx, blob: b, off: off, limit: off + length}
}

type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	return n, err
}
