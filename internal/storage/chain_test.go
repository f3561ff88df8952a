package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeBackend struct {
	name      string
	storeErr  error
	listErr   error
	deleteErr error
	stored    []string
	deleted   []string
	listing   []Locator
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Store(_ context.Context, key string, body []byte, contentType string) (Locator, error) {
	if f.storeErr != nil {
		return Locator{}, f.storeErr
	}
	f.stored = append(f.stored, key)
	return Locator{Backend: f.name, Key: key, SizeBytes: int64(len(body)), ContentType: contentType}, nil
}

func (f *fakeBackend) List(context.Context, string) ([]Locator, error) {
	return f.listing, f.listErr
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainStoreFallsThroughToSecondary(t *testing.T) {
	primary := &fakeBackend{name: "s3", storeErr: errors.New("connection refused")}
	secondary := &fakeBackend{name: "local"}
	chain := NewChain(testLogger(), time.Second, primary, secondary)

	loc, err := chain.Store(context.Background(), "captures/u/a.jpg", []byte("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if loc.Backend != "local" {
		t.Fatalf("expected fallback to local, got %s", loc.Backend)
	}
	if len(secondary.stored) != 1 {
		t.Fatalf("expected secondary to receive the artifact")
	}
}

func TestChainStorePrefersPrimary(t *testing.T) {
	primary := &fakeBackend{name: "s3"}
	secondary := &fakeBackend{name: "local"}
	chain := NewChain(testLogger(), time.Second, primary, secondary)

	loc, err := chain.Store(context.Background(), "captures/u/a.jpg", []byte("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if loc.Backend != "s3" {
		t.Fatalf("expected primary backend, got %s", loc.Backend)
	}
	if len(secondary.stored) != 0 {
		t.Fatalf("secondary should not be touched on primary success")
	}
}

func TestChainStoreExhaustion(t *testing.T) {
	chain := NewChain(testLogger(), time.Second,
		&fakeBackend{name: "s3", storeErr: errors.New("connection refused")},
		&fakeBackend{name: "local", storeErr: errors.New("disk full")},
	)

	_, err := chain.Store(context.Background(), "captures/u/a.jpg", []byte("data"), "image/jpeg")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected last backend error preserved, got %v", err)
	}
}

func TestChainListFirstAnswerWins(t *testing.T) {
	chain := NewChain(testLogger(), time.Second,
		&fakeBackend{name: "s3", listErr: errors.New("timeout")},
		&fakeBackend{name: "local", listing: []Locator{{Backend: "local", Key: "captures/u/a.jpg"}}},
	)

	locs, err := chain.List(context.Background(), "u")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 1 || locs[0].Backend != "local" {
		t.Fatalf("unexpected listing %+v", locs)
	}
}

func TestChainDeleteSucceedsIfAnyBackendDid(t *testing.T) {
	primary := &fakeBackend{name: "s3", deleteErr: errors.New("timeout")}
	secondary := &fakeBackend{name: "local"}
	chain := NewChain(testLogger(), time.Second, primary, secondary)

	if err := chain.Delete(context.Background(), "captures/u/a.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(secondary.deleted) != 1 {
		t.Fatalf("expected delete on secondary")
	}
}

func TestArtifactKeyDeterministic(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)
	key := ArtifactKey("user-1", "sess-1", ts)
	want := "captures/user-1/20250301_123045_sess-1.jpg"
	if key != want {
		t.Fatalf("expected %s, got %s", want, key)
	}
}
