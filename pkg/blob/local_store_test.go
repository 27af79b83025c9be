package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalBlobStore(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalBlobStore(tmpDir)
	ctx := context.Background()

	key := "packets/2024/01/01/a.jsonl.gz"
	if err := store.Put(ctx, key, strings.NewReader("hello world")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "packets", "2024", "01", "01", "a.jsonl.gz")); err != nil {
		t.Errorf("blob not written to expected path: %v", err)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil || string(data) != "hello world" {
		t.Errorf("unexpected content %q (%v)", data, err)
	}

	if err := store.Put(ctx, "packets/2024/01/02/b.jsonl.gz", strings.NewReader("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "other/c", strings.NewReader("y")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	keys, err := store.List(ctx, "packets/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"packets/2024/01/01/a.jsonl.gz", "packets/2024/01/02/b.jsonl.gz"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", keys, want)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestLocalBlobStore_InvalidKeys(t *testing.T) {
	store := NewLocalBlobStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", "/", "../escape", "a/../../b", "a//b"} {
		if err := store.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestLocalBlobStore_ListMissingRoot(t *testing.T) {
	store := NewLocalBlobStore(filepath.Join(t.TempDir(), "absent"))
	keys, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}
