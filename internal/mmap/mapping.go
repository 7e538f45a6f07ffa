// Package mmap maps local segment files into memory for zero-copy reads.
//
// Segment files are immutable, so every mapping is read-only. The read path
// touches a file at scattered offsets (footer tail, short-key index page,
// individual column pages), which is why the local blob store opens a file
// once and advises AccessRandom for its lifetime.
//
// A Mapping is safe for concurrent readers. Close is idempotent, but callers
// must not touch Bytes after Close returns.
package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// AccessPattern hints the kernel about upcoming reads of a mapping.
type AccessPattern int

const (
	// AccessNormal leaves the kernel's default readahead in place.
	AccessNormal AccessPattern = iota
	// AccessSequential expects front-to-back reads, e.g. a full-file scan.
	AccessSequential
	// AccessRandom expects scattered page reads and disables readahead.
	AccessRandom
)

var (
	// ErrClosed is returned for reads of a closed mapping.
	ErrClosed = errors.New("mmap: mapping closed")
	// ErrInvalidSize is returned when the file size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for a negative read offset.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// Mapping is one read-only memory-mapped file. The zero-length file maps to
// an empty, valid Mapping.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < 0 || size != int64(int(size)) {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, unmap: unmap}, nil
}

// Close unmaps the file. Safe to call more than once.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the mapped contents. The slice is only valid until Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped file size in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Advise hints the kernel about the upcoming access pattern. The hint is
// advisory; platforms without an equivalent treat it as a no-op.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt over the mapped contents.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
