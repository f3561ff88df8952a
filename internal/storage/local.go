package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalBackend stores artifacts on the local filesystem. It is the last
// resort when the remote backend is unreachable.
type LocalBackend struct {
	baseDir string
}

// NewLocalBackend builds the filesystem backend rooted at baseDir.
func NewLocalBackend(baseDir string) *LocalBackend {
	if baseDir == "" {
		baseDir = "./captured"
	}
	return &LocalBackend{baseDir: baseDir}
}

func (b *LocalBackend) Name() string { return "local" }

// Store writes the artifact to baseDir/key via a temp file and rename, so a
// failed write leaves nothing reachable under the final key.
func (b *LocalBackend) Store(_ context.Context, key string, body []byte, contentType string) (Locator, error) {
	path := filepath.Join(b.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Locator{}, fmt.Errorf("create dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".capture-*")
	if err != nil {
		return Locator{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Locator{}, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Locator{}, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Locator{}, fmt.Errorf("rename file: %w", err)
	}

	return Locator{
		Backend:     b.Name(),
		Key:         key,
		URL:         path,
		SizeBytes:   int64(len(body)),
		ContentType: contentType,
		StoredAt:    time.Now().UTC(),
	}, nil
}

// List walks the user's capture directory.
func (b *LocalBackend) List(_ context.Context, userID string) ([]Locator, error) {
	dir := filepath.Join(b.baseDir, "captures", userID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var out []Locator
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := filepath.ToSlash(filepath.Join("captures", userID, e.Name()))
		out = append(out, Locator{
			Backend:   b.Name(),
			Key:       key,
			URL:       filepath.Join(dir, e.Name()),
			SizeBytes: info.Size(),
			StoredAt:  info.ModTime().UTC(),
		})
	}
	return out, nil
}

// Delete removes the file for key; missing files are not an error.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	path := filepath.Join(b.baseDir, sanitizeKey(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(filepath.FromSlash(key))
	key = strings.TrimPrefix(key, string(filepath.Separator))
	for strings.HasPrefix(key, ".."+string(filepath.Separator)) {
		key = strings.TrimPrefix(key, ".."+string(filepath.Separator))
	}
	return key
}
