package storage

import (
	"context"

	"github.com/otero/throttleproxy/pkg/shardmap"
)

// MemoryBackend is an in-memory, concurrency-safe key-value store. Put
// overwrites, Get returns a defensive copy of the stored bytes, Delete is
// idempotent.
type MemoryBackend struct {
	data *shardmap.Map[[]byte]
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: shardmap.New[[]byte](0)}
}

func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	b.data.Store(key, stored)
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.data.Delete(key)
	return nil
}
