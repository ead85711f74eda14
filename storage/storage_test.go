package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := b.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	if err := b.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v, want v1, true, nil", v, ok, err)
	}

	// overwrite
	if err := b.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err = b.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("Get(k) after overwrite = %q, %v, %v, want v2, true, nil", v, ok, err)
	}

	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatalf("Get(k) after Delete still found a value")
	}

	// deleting an absent key is not an error
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete(absent) = %v, want nil", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
}

func TestFileBackend(t *testing.T) {
	testBackend(t, NewFileBackend(t.TempDir()))
}

func TestFileBackendCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	b := NewFileBackend(root)
	ctx := context.Background()

	if err := b.Put(ctx, "nested/key", []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := b.Get(ctx, "nested/key")
	if err != nil || !ok || string(v) != "value" {
		t.Fatalf("Get(nested/key) = %q, %v, %v", v, ok, err)
	}

	got := filepath.Join(root, "nested", "key")
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("expected file at %s: %v", got, err)
	}
}
