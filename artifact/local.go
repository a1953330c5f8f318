package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps artifacts as files in a private directory.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates dir if needed. An empty dir uses a fresh directory
// under the system temp dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "easyretouch-artifacts-")
		if err != nil {
			return nil, fmt.Errorf("artifact: create temp dir: %w", err)
		}
		return &LocalStore{dir: tmp}, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (l *LocalStore) Dir() string {
	return l.dir
}

// Name implements Store.
func (l *LocalStore) Name() string {
	return "local"
}

// Supports implements Store.
func (l *LocalStore) Supports(req Requirement) bool {
	return req == None || req == LocalFile
}

// Stage implements Store.
func (l *LocalStore) Stage(ctx context.Context, key string, data []byte, contentType string) (*Handle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, key)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("artifact: write %s: %w", key, err)
	}
	return &Handle{Key: key, Path: path, ContentType: contentType, Size: len(data)}, nil
}

// Release implements Store.
func (l *LocalStore) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := validateKey(h.Key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.dir, h.Key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact: remove %s: %w", h.Key, err)
	}
	return nil
}

// Sweep removes every file left in the directory, e.g. after a crash.
// Returns the number of files removed.
func (l *LocalStore) Sweep() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("artifact: read dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
