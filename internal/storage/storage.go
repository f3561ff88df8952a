package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"capture-scheduler/internal/telemetry"
)

// ErrExhausted is returned when every backend in a chain failed.
var ErrExhausted = errors.New("all storage backends failed")

// Locator is an opaque reference to a persisted artifact, independent of
// which backend produced it.
type Locator struct {
	Backend     string    `json:"backend"`
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	StoredAt    time.Time `json:"stored_at,omitempty"`
}

// Backend persists artifact bytes under deterministic keys. Implementations
// must leave nothing reachable on failure.
type Backend interface {
	Name() string
	Store(ctx context.Context, key string, body []byte, contentType string) (Locator, error)
	List(ctx context.Context, userID string) ([]Locator, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactKey builds the deterministic object key for one session's artifact.
func ArtifactKey(userID, sessionID string, ts time.Time) string {
	return fmt.Sprintf("captures/%s/%s_%s.jpg", userID, ts.UTC().Format("20060102_150405"), sessionID)
}

// Chain tries backends strictly in order and stops at the first success.
// A backend failure is logged for triage and falls through silently; callers
// see one aggregate result.
type Chain struct {
	backends []Backend
	timeout  time.Duration
	logger   *slog.Logger
}

// NewChain builds a chain with a per-backend timeout.
func NewChain(logger *slog.Logger, timeout time.Duration, backends ...Backend) *Chain {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Chain{
		backends: backends,
		timeout:  timeout,
		logger:   logger.With("component", "storage_chain"),
	}
}

// Store persists the body under key on the first backend that accepts it.
func (c *Chain) Store(ctx context.Context, key string, body []byte, contentType string) (Locator, error) {
	if len(c.backends) == 0 {
		return Locator{}, ErrExhausted
	}
	var lastErr error
	for _, b := range c.backends {
		bctx, cancel := context.WithTimeout(ctx, c.timeout)
		loc, err := b.Store(bctx, key, body, contentType)
		cancel()
		if err == nil {
			return loc, nil
		}
		lastErr = err
		telemetry.StorageFallthrough.Inc()
		c.logger.Error("storage backend failed, falling through",
			"backend", b.Name(), "key", key, "error", err)
	}
	return Locator{}, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// List returns the artifacts for a user from the first backend that answers.
func (c *Chain) List(ctx context.Context, userID string) ([]Locator, error) {
	var lastErr error
	for _, b := range c.backends {
		bctx, cancel := context.WithTimeout(ctx, c.timeout)
		locs, err := b.List(bctx, userID)
		cancel()
		if err == nil {
			return locs, nil
		}
		lastErr = err
		c.logger.Error("storage list failed, falling through", "backend", b.Name(), "error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// Delete removes the key from every backend; it succeeds if any backend did.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error
	deleted := false
	for _, b := range c.backends {
		bctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := b.Delete(bctx, key)
		cancel()
		if err == nil {
			deleted = true
			continue
		}
		lastErr = err
		c.logger.Warn("storage delete failed", "backend", b.Name(), "key", key, "error", err)
	}
	if deleted || lastErr == nil {
		return nil
	}
	return lastErr
}
