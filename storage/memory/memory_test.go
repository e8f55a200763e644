package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/cmis-bindings-go/storage"
	"github.com/ggoodman/cmis-bindings-go/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	s, err := New(100)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	storagetest.Run(t, s)
}

func TestEviction(t *testing.T) {
	var evicted []string
	s, err := New(2, WithEvictionHook(func(repo, key string) { evicted = append(evicted, repo+"/"+key) }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_ = s.Put(ctx, "a", &storage.Blob{Data: []byte("a")}, storage.WithRepository("r"))
	_ = s.Put(ctx, "a", &storage.Blob{Data: []byte("a2")}, storage.WithRepository("r"))
	if len(evicted) != 0 {
		t.Fatalf("overwrite reported as eviction: %v", evicted)
	}
	_ = s.Put(ctx, "b", &storage.Blob{Data: []byte("b")}, storage.WithRepository("r"))
	_ = s.Put(ctx, "c", &storage.Blob{Data: []byte("c")}, storage.WithRepository("r"))
	if len(evicted) != 1 || evicted[0] != "r/a" {
		t.Fatalf("evicted = %v, want [r/a]", evicted)
	}

	_ = s.Delete(ctx, storage.WithRepository("r"), storage.WithKey("b"))
	if len(evicted) != 1 {
		t.Fatalf("explicit delete reported as eviction: %v", evicted)
	}
}

func TestMaxBlobSize(t *testing.T) {
	s, _ := New(10, WithMaxBlobSize(4))
	defer s.Close()
	err := s.Put(context.Background(), "big", &storage.Blob{Data: []byte("12345")})
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
}

func TestPutCopiesData(t *testing.T) {
	s, _ := New(10)
	defer s.Close()
	buf := []byte("original")
	_ = s.Put(context.Background(), "k", &storage.Blob{Data: buf})
	copy(buf, "XXXXXXXX")
	b, _ := s.Get(context.Background(), "k")
	if string(b.Data) != "original" {
		t.Fatalf("stored data aliased caller buffer: %q", b.Data)
	}
}

func TestWithoutEviction(t *testing.T) {
	var evicted []string
	s, err := New(2, WithoutEviction(), WithEvictionHook(func(repo, key string) { evicted = append(evicted, key) }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := s.Put(ctx, k, &storage.Blob{Data: []byte(k)}); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}
	if err := s.Put(ctx, "c", &storage.Blob{Data: []byte("c")}); !errors.Is(err, storage.ErrFull) {
		t.Fatalf("want ErrFull, got %v", err)
	}
	if err := s.Put(ctx, "a", &storage.Blob{Data: []byte("a2")}); err != nil {
		t.Fatalf("replacing a stored key: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if b, _ := s.Get(ctx, k); b == nil {
			t.Fatalf("blob %q was dropped", k)
		}
	}
	if len(evicted) != 0 {
		t.Fatalf("evicted = %v", evicted)
	}

	_ = s.Delete(ctx, storage.WithKey("b"))
	if err := s.Put(ctx, "c", &storage.Blob{Data: []byte("c")}); err != nil {
		t.Fatalf("Put after delete: %v", err)
	}
}
