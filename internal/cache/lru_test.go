package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageKey(path string, col uint32, off uint64) Key {
	return Key{Kind: KindPage, Path: path, Column: col, Offset: off}
}

func TestLRUGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(1024)

	_, ok := c.Get(ctx, pageKey("seg", 0, 0))
	assert.False(t, ok)

	c.Set(ctx, pageKey("seg", 0, 0), []byte("block0"))
	b, ok := c.Get(ctx, pageKey("seg", 0, 0))
	require.True(t, ok)
	assert.Equal(t, "block0", string(b))

	// Same offset under a different column is a different key.
	_, ok = c.Get(ctx, pageKey("seg", 1, 0))
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, int64(6), c.Size())
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(30)

	for i := 0; i < 3; i++ {
		c.Set(ctx, pageKey("seg", 0, uint64(i)), make([]byte, 10))
	}
	// Touch key 0 so key 1 is the eviction victim.
	_, ok := c.Get(ctx, pageKey("seg", 0, 0))
	require.True(t, ok)

	c.Set(ctx, pageKey("seg", 0, 3), make([]byte, 10))

	_, ok = c.Get(ctx, pageKey("seg", 0, 1))
	assert.False(t, ok)
	_, ok = c.Get(ctx, pageKey("seg", 0, 0))
	assert.True(t, ok)
	_, ok = c.Get(ctx, pageKey("seg", 0, 3))
	assert.True(t, ok)
	assert.Equal(t, int64(30), c.Size())
}

func TestLRUOversizedBlockNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(16)

	c.Set(ctx, pageKey("seg", 0, 0), make([]byte, 17))
	_, ok := c.Get(ctx, pageKey("seg", 0, 0))
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestLRUUpdateExisting(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(1024)

	c.Set(ctx, pageKey("seg", 0, 0), []byte("aa"))
	c.Set(ctx, pageKey("seg", 0, 0), []byte("bbbb"))

	b, ok := c.Get(ctx, pageKey("seg", 0, 0))
	require.True(t, ok)
	assert.Equal(t, "bbbb", string(b))
	assert.Equal(t, int64(4), c.Size())
}

func TestLRUInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(1024)

	c.Set(ctx, pageKey("seg1", 0, 0), []byte("a"))
	c.Set(ctx, pageKey("seg1", 0, 1), []byte("b"))
	c.Set(ctx, pageKey("seg2", 0, 0), []byte("c"))

	c.Invalidate(func(k Key) bool { return k.Path == "seg1" })

	_, ok := c.Get(ctx, pageKey("seg1", 0, 0))
	assert.False(t, ok)
	_, ok = c.Get(ctx, pageKey("seg2", 0, 0))
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Size())
}

func TestShardedLRU(t *testing.T) {
	ctx := context.Background()
	c := NewShardedLRUBlockCache(64 << 10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k := pageKey(fmt.Sprintf("seg%d", g), 0, uint64(i))
				c.Set(ctx, k, []byte{byte(i)})
				b, ok := c.Get(ctx, k)
				assert.True(t, ok)
				assert.Equal(t, []byte{byte(i)}, b)
			}
		}(g)
	}
	wg.Wait()

	hits, _ := c.Stats()
	assert.Equal(t, int64(800), hits)
	assert.Equal(t, int64(800), c.Size())

	c.Invalidate(func(k Key) bool { return true })
	assert.Zero(t, c.Size())
}
