package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/singleflight"

	"github.com/amber-create/starrocks/internal/cache"
)

// CachingStore wraps a BlobStore with block-level read caching. Remote
// stores pay a round trip per page read; the block cache turns the hot
// footer, short-key index and page reads of repeated scans into memory hits.
// Segment blobs are immutable, so cached blocks never go stale while a blob
// keeps its name.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
	group     singleflight.Group
}

// NewCachingStore creates a CachingStore. blockSize defaults to 64KB when
// <= 0, which matches the default page size of the segment writer.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 64 << 10
	}
	return &CachingStore{inner: inner, cache: c, blockSize: blockSize}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{store: s, inner: b, name: name}, nil
}

// Create passes through; writes are not cached.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

// Put invalidates any cached blocks of the name before overwriting it.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete invalidates cached blocks and removes the blob.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Path == name
	})
}

type cachingBlob struct {
	store *CachingStore
	inner Blob
	name  string
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	blockSize := b.store.blockSize
	startBlock := off / blockSize
	endBlock := (off + int64(len(p)) - 1) / blockSize

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		block, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return total, err
		}

		blkStart := blk * blockSize
		from := max(blkStart, off)
		to := min(blkStart+blockSize, off+int64(len(p)))
		srcOff := from - blkStart
		if srcOff >= int64(len(block)) {
			// Short final block: the request runs past end of blob.
			return total, io.EOF
		}
		n := copy(p[from-off:to-off], block[srcOff:])
		total += n
		if int64(n) < to-from {
			return total, io.EOF
		}
	}
	return total, nil
}

// fetchBlock returns one cached block, filling it through singleflight so
// concurrent readers of the same cold block trigger a single backend read.
func (b *cachingBlob) fetchBlock(ctx context.Context, blk int64) ([]byte, error) {
	key := cache.Key{Kind: cache.KindBlob, Path: b.name, Offset: uint64(blk)}
	if data, ok := b.store.cache.Get(ctx, key); ok {
		return data, nil
	}

	flightKey := fmt.Sprintf("%s#%d", b.name, blk)
	v, err, _ := b.store.group.Do(flightKey, func() (any, error) {
		if data, ok := b.store.cache.Get(ctx, key); ok {
			return data, nil
		}
		buf := make([]byte, b.store.blockSize)
		n, err := b.inner.ReadAt(ctx, buf, blk*b.store.blockSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		data := buf[:n]
		if n > 0 {
			b.store.cache.Set(ctx, key, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
