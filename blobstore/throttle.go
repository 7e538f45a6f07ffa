package blobstore

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledStore wraps a BlobStore with byte-rate limiting. Background work
// such as compaction reads entire segments; throttling keeps it from
// starving latency-sensitive query reads of the shared backend.
type ThrottledStore struct {
	inner   BlobStore
	limiter *rate.Limiter
}

// NewThrottledStore creates a ThrottledStore limited to bytesPerSec with the
// given burst. A burst below the largest single read forces that read to be
// split across limiter waits, so size it at least to one page.
func NewThrottledStore(inner BlobStore, bytesPerSec float64, burst int) *ThrottledStore {
	return &ThrottledStore{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

// Open opens a blob whose reads are throttled.
func (s *ThrottledStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledBlob{inner: b, limiter: s.limiter}, nil
}

// Create opens a writable blob whose writes are throttled.
func (s *ThrottledStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledWritableBlob{ctx: ctx, inner: w, limiter: s.limiter}, nil
}

// Put throttles the whole payload before delegating.
func (s *ThrottledStore) Put(ctx context.Context, name string, data []byte) error {
	if err := waitBytes(ctx, s.limiter, len(data)); err != nil {
		return err
	}
	return s.inner.Put(ctx, name, data)
}

// Delete passes through.
func (s *ThrottledStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *ThrottledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// waitBytes reserves n bytes of budget, splitting requests larger than the
// limiter burst.
func waitBytes(ctx context.Context, l *rate.Limiter, n int) error {
	for n > 0 {
		chunk := n
		if chunk > l.Burst() {
			chunk = l.Burst()
		}
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

type throttledBlob struct {
	inner   Blob
	limiter *rate.Limiter
}

func (b *throttledBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := waitBytes(ctx, b.limiter, len(p)); err != nil {
		return 0, err
	}
	return b.inner.ReadAt(ctx, p, off)
}

func (b *throttledBlob) Close() error { return b.inner.Close() }

func (b *throttledBlob) Size() int64 { return b.inner.Size() }

type throttledWritableBlob struct {
	ctx     context.Context
	inner   WritableBlob
	limiter *rate.Limiter
}

func (w *throttledWritableBlob) Write(p []byte) (int, error) {
	if err := waitBytes(w.ctx, w.limiter, len(p)); err != nil {
		return 0, err
	}
	return w.inner.Write(p)
}

func (w *throttledWritableBlob) Sync() error { return w.inner.Sync() }

func (w *throttledWritableBlob) Close() error { return w.inner.Close() }
