// Package cache implements a TTL-based response cache: a storage backend
// plus an auxiliary fingerprint→evict_at index, with expiry enforced
// lazily at read time rather than by a background sweeper.
package cache

import (
	"context"
	"time"

	"github.com/otero/throttleproxy/pkg/shardmap"
	"github.com/otero/throttleproxy/storage"
)

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLRU enables capacity-driven eviction on top of TTL expiry: when a Put
// would exceed maxEntries live fingerprints, the least-recently-used one is
// evicted first. Without this option the configured size is advisory only
// and the cache relies entirely on TTL expiry to bound its contents.
func WithLRU(maxEntries int) Option {
	return func(c *Cache) {
		if maxEntries > 0 {
			c.lru = newLRUIndex(maxEntries)
		}
	}
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache composes a storage.Backend with an expiry index.
type Cache struct {
	backend storage.Backend
	size    int
	ttl     time.Duration
	expiry  *shardmap.Map[int64]  // fingerprint -> evict_at (unix seconds)
	entries *shardmap.Map[*Entry] // fingerprint -> observability metadata
	lru     *lruIndex             // nil unless WithLRU is used
	now     func() time.Time
}

// New creates a Cache over backend with the given advisory size and TTL.
func New(backend storage.Backend, size int, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		size:    size,
		ttl:     ttl,
		expiry:  shardmap.New[int64](0),
		entries: shardmap.New[*Entry](0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the configured advisory capacity.
func (c *Cache) Size() int { return c.size }

// SetSize updates the advisory capacity. Administrative only: it does not
// change the LRU capacity given to WithLRU, and no entry is evicted by it.
func (c *Cache) SetSize(size int) { c.size = size }

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// SetTTL updates the TTL applied to subsequent Puts. Existing entries keep
// their previously computed evict_at.
func (c *Cache) SetTTL(ttl time.Duration) { c.ttl = ttl }

// Put stores value under fingerprint, computing evict_at = now + ttl and
// writing the expiry record before the storage write. The two writes need
// not be atomic with each other; Get is defensive against a lost storage
// write and simply reports a miss rather than surfacing an inconsistency.
func (c *Cache) Put(ctx context.Context, fingerprint string, value []byte) error {
	now := c.now()
	evictAt := now.Add(c.ttl).Unix()
	c.expiry.Store(fingerprint, evictAt)
	c.entries.Store(fingerprint, newEntry(now))

	if c.lru != nil {
		if evicted, ok := c.lru.touch(fingerprint); ok {
			c.expiry.Delete(evicted)
			c.entries.Delete(evicted)
			_ = c.backend.Delete(ctx, evicted)
		}
	}

	if err := c.backend.Put(ctx, fingerprint, value); err != nil {
		// The expiry record now points at bytes that may not exist. A
		// subsequent Get will see now < evict_at, ask the backend, get a
		// miss, and correctly report "not cached" rather than bogus bytes.
		return err
	}
	return nil
}

// Get returns the cached bytes for fingerprint, or ok=false on miss.
// Absent, expired, and a backend failure are all indistinguishable misses
// to the caller.
func (c *Cache) Get(ctx context.Context, fingerprint string) (value []byte, ok bool) {
	evictAt, present := c.expiry.Load(fingerprint)
	if !present {
		return nil, false
	}

	now := c.now()
	if now.Unix() >= evictAt {
		c.expiry.Delete(fingerprint)
		c.entries.Delete(fingerprint)
		if c.lru != nil {
			c.lru.remove(fingerprint)
		}
		_ = c.backend.Delete(ctx, fingerprint) // best-effort
		return nil, false
	}

	value, found, err := c.backend.Get(ctx, fingerprint)
	if err != nil || !found {
		return nil, false
	}

	if entry, ok := c.entries.Load(fingerprint); ok {
		entry.recordAccess(now)
	}
	if c.lru != nil {
		c.lru.touch(fingerprint)
	}
	return value, true
}

// Stats returns the observability entry for fingerprint, if it is still
// live in the expiry index.
func (c *Cache) Stats(fingerprint string) (*Entry, bool) {
	return c.entries.Load(fingerprint)
}

// Delete removes fingerprint from both the expiry index and storage.
func (c *Cache) Delete(ctx context.Context, fingerprint string) error {
	c.expiry.Delete(fingerprint)
	c.entries.Delete(fingerprint)
	if c.lru != nil {
		c.lru.remove(fingerprint)
	}
	return c.backend.Delete(ctx, fingerprint)
}
