// Package shardmap provides a fixed-shard-count concurrent map.
//
// Each key is routed to one of a small number of shards by FNV-1a hash; each
// shard is protected by its own mutex. This gives the cache's expiry index
// and the throttler's admission index fine-grained locking without reaching
// for a full concurrent-map library: distinct keys that land in different
// shards never contend, and within a shard, operations are serialized by
// that shard's own mutex.
package shardmap

import (
	"hash/fnv"
	"sync"
)

// DefaultShards is used when Map is constructed via New(0).
const DefaultShards = 32

// Map is a concurrent map[string]V sharded by key hash.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu   sync.Mutex
	data map[string]V
}

// New creates a sharded map with the given number of shards, rounded up to
// the next power of two. numShards <= 0 selects DefaultShards.
func New[V any](numShards int) *Map[V] {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	n := 1
	for n < numShards {
		n <<= 1
	}

	shards := make([]*shard[V], n)
	for i := range shards {
		shards[i] = &shard[V]{data: make(map[string]V)}
	}

	return &Map[V]{shards: shards, mask: uint64(n - 1)}
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum64()&m.mask]
}

// Load returns the value stored for key, if any.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Store sets the value for key, overwriting any prior value.
func (m *Map[V]) Store(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Update runs fn with exclusive access to the slot for key, passing the
// current value (and whether it was present) and storing whatever fn
// returns. This is the primitive the throttler's admission index builds its
// atomic read-modify-write on.
func (m *Map[V]) Update(key string, fn func(current V, ok bool) V) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[key]
	next := fn(current, ok)
	s.data[key] = next
	return next
}

// Len returns the total number of entries across all shards.
// Complexity: O(shards), intended for advisory/metrics use, not hot paths.
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.data)
		s.mu.Unlock()
	}
	return total
}
