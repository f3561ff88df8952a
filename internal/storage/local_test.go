package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(t.TempDir())
	key := ArtifactKey("user-1", "sess-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	loc, err := b.Store(ctx, key, []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if loc.Backend != "local" || loc.Key != key || loc.SizeBytes != 10 {
		t.Fatalf("unexpected locator %+v", loc)
	}
	data, err := os.ReadFile(loc.URL)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected file contents %q", data)
	}

	locs, err := b.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 1 || locs[0].Key != key {
		t.Fatalf("expected one artifact with key %s, got %+v", key, locs)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(loc.URL); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
}

func TestLocalBackendListEmptyUser(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	locs, err := b.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 0 {
		t.Fatalf("expected no artifacts, got %d", len(locs))
	}
}

func TestLocalBackendDeleteMissingIsNoop(t *testing.T) {
	b := NewLocalBackend(t.TempDir())
	if err := b.Delete(context.Background(), "captures/u/missing.jpg"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestLocalBackendSanitizesTraversal(t *testing.T) {
	base := t.TempDir()
	b := NewLocalBackend(base)

	loc, err := b.Store(context.Background(), "../../etc/passwd.jpg", []byte("x"), "image/jpeg")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	rel, err := filepath.Rel(base, loc.URL)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || rel[0] == '.' && len(rel) > 1 && rel[1] == '.' {
		t.Fatalf("stored outside base dir: %s", loc.URL)
	}
}
