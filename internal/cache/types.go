package cache

import "context"

// Kind separates cache key spaces so one segment's pages, index and generic
// blob blocks never collide.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindPage caches decompressed column data pages.
	KindPage
	// KindShortKeyIndex caches parsed short-key index pages.
	KindShortKeyIndex
	// KindBlob caches raw blob-store blocks (remote backends).
	KindBlob
)

// Key identifies one cached block. Keys must be stable for the lifetime of a
// segment file: segment blobs are immutable, so a (path, column, offset)
// triple always names the same bytes.
type Key struct {
	Kind Kind
	// Path names the source blob.
	Path string
	// Column is the ordinal of the column the block belongs to; unused for
	// KindBlob.
	Column uint32
	// Offset is a logical block identifier (byte offset, page index or block
	// index depending on Kind).
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks. Returned slices
// must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. Implementations may copy or retain; the caller
	// must treat b as immutable afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources.
	Close() error
	// Stats returns hit/miss counters.
	Stats() (hits, misses int64)
}
