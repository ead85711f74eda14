package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores each key as a file at <root>/<key>. Put writes to a
// temp file in the same directory and renames it over the target, so a
// concurrent Get never observes a partially written file.
type FileBackend struct {
	root string
}

// NewFileBackend creates a file-backed store rooted at root. root is
// created on first Put if it does not already exist.
func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.root, key)
}

func (b *FileBackend) Put(_ context.Context, key string, value []byte) error {
	target := b.path(key)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError("file", "put", key, fmt.Errorf("create parent dirs: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return newError("file", "put", key, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return newError("file", "put", key, fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return newError("file", "put", key, fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return newError("file", "put", key, fmt.Errorf("rename into place: %w", err))
	}
	return nil
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, newError("file", "get", key, err)
	}
	return data, true, nil
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return newError("file", "delete", key, err)
	}
	return nil
}
