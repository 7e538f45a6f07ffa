package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"sync"
)

const numShards = 64

// ShardedLRUBlockCache distributes entries across 64 LRU shards to reduce
// lock contention between concurrent scan threads.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

// NewShardedLRUBlockCache creates a sharded LRU cache. The capacity is
// divided evenly across the shards.
func NewShardedLRUBlockCache(capacity int64) *ShardedLRUBlockCache {
	shardCapacity := capacity / numShards
	if shardCapacity < 1 {
		shardCapacity = 1
	}
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := 0; i < numShards; i++ {
		s.shards[i] = NewLRUBlockCache(shardCapacity)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key Key) *LRUBlockCache {
	var h maphash.Hash
	h.SetSeed(s.seed)

	var buf [13]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint32(buf[1:], key.Column)
	binary.LittleEndian.PutUint64(buf[5:], key.Offset)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(key.Path)

	return s.shards[h.Sum64()%numShards]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(ctx context.Context, key Key, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes entries matching the predicate. Iterates all shards,
// which is expensive but rare (only on blob overwrite or delete).
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key Key) bool) {
	var wg sync.WaitGroup
	wg.Add(numShards)
	for i := 0; i < numShards; i++ {
		go func(shard *LRUBlockCache) {
			defer wg.Done()
			shard.Invalidate(predicate)
		}(s.shards[i])
	}
	wg.Wait()
}

// Close closes all shards.
func (s *ShardedLRUBlockCache) Close() error {
	for i := 0; i < numShards; i++ {
		if err := s.shards[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns aggregated hit/miss statistics.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for i := 0; i < numShards; i++ {
		h, m := s.shards[i].Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total cached bytes across all shards.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for i := 0; i < numShards; i++ {
		total += s.shards[i].Size()
	}
	return total
}
