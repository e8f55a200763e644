// Package storagetest holds behaviour checks shared by every storage.Storage
// implementation.
package storagetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/ggoodman/cmis-bindings-go/storage"
)

// Run exercises s. s must start empty.
func Run(t *testing.T, s storage.Storage) {
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, s) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, s) })
	t.Run("Repositories", func(t *testing.T) { testRepositories(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteRepository", func(t *testing.T) { testDeleteRepository(t, s) })
}

func testPutAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte{0x00, 0xff, 'c', 'm', 'i', 's', 0x00}
	if err := s.Put(ctx, "blob-1", &storage.Blob{Data: data, MimeType: "application/pdf", Filename: "a.pdf"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := s.Get(ctx, "blob-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b == nil {
		t.Fatal("Get returned nil blob")
	}
	if !bytes.Equal(b.Data, data) {
		t.Fatalf("data = %x, want %x", b.Data, data)
	}
	if b.MimeType != "application/pdf" || b.Filename != "a.pdf" {
		t.Fatalf("metadata = %q/%q", b.MimeType, b.Filename)
	}
	if b.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
}

func testGetMissing(t *testing.T, s storage.Storage) {
	b, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil blob, got %+v", b)
	}
}

func testRepositories(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_ = s.Put(ctx, "shared", &storage.Blob{Data: []byte("one")}, storage.WithRepository("r1"))
	_ = s.Put(ctx, "shared", &storage.Blob{Data: []byte("two")}, storage.WithRepository("r2"))

	b1, _ := s.Get(ctx, "shared", storage.WithRepository("r1"))
	b2, _ := s.Get(ctx, "shared", storage.WithRepository("r2"))
	if b1 == nil || b2 == nil || string(b1.Data) != "one" || string(b2.Data) != "two" {
		t.Fatalf("repositories not isolated: %v %v", b1, b2)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_ = s.Put(ctx, "k1", &storage.Blob{Data: []byte("x")}, storage.WithRepository("del"))
	_ = s.Put(ctx, "k2", &storage.Blob{Data: []byte("y")}, storage.WithRepository("del"))

	if err := s.Delete(ctx, storage.WithRepository("del"), storage.WithKey("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if b, _ := s.Get(ctx, "k1", storage.WithRepository("del")); b != nil {
		t.Fatal("k1 should be gone")
	}
	if b, _ := s.Get(ctx, "k2", storage.WithRepository("del")); b == nil {
		t.Fatal("k2 should remain")
	}
}

func testDeleteRepository(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_ = s.Put(ctx, "a", &storage.Blob{Data: []byte("a")}, storage.WithRepository("wipe"))
	_ = s.Put(ctx, "b", &storage.Blob{Data: []byte("b")}, storage.WithRepository("wipe"))
	_ = s.Put(ctx, "a", &storage.Blob{Data: []byte("keep")}, storage.WithRepository("keep"))

	if err := s.Delete(ctx, storage.WithRepository("wipe")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if b, _ := s.Get(ctx, k, storage.WithRepository("wipe")); b != nil {
			t.Fatalf("%s should be gone", k)
		}
	}
	if b, _ := s.Get(ctx, "a", storage.WithRepository("keep")); b == nil {
		t.Fatal("other repository must be untouched")
	}
}
