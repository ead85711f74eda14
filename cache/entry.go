package cache

import (
	"sync/atomic"
	"time"
)

// Entry tracks observability metadata for one cached fingerprint. It has no
// bearing on eviction — expiry is governed entirely by the evict_at index in
// Cache — but it lets operators see access patterns through Cache.Stats.
type Entry struct {
	CreatedAt   time.Time
	lastAccess  atomic.Int64 // unix nano
	accessCount atomic.Int64
}

func newEntry(now time.Time) *Entry {
	e := &Entry{CreatedAt: now}
	e.lastAccess.Store(now.UnixNano())
	return e
}

func (e *Entry) recordAccess(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
	e.accessCount.Add(1)
}

// LastAccess returns the time of the most recent Get that found this entry,
// or CreatedAt if no Get has found it yet.
func (e *Entry) LastAccess() time.Time {
	return time.Unix(0, e.lastAccess.Load())
}

// AccessCount returns the number of Gets that found this entry.
func (e *Entry) AccessCount() int64 {
	return e.accessCount.Load()
}
