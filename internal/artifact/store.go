// Package artifact persists serialized model artifacts.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ricesearch/rice-nlu/internal/config"
	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
)

// Store reads and writes a single model artifact. Writes are all-or-nothing:
// a reader sees either the previous artifact or the complete new one.
type Store interface {
	// Exists reports whether an artifact is present. It has no side effects.
	// A nil error with false means the artifact is definitely absent; an
	// error means presence could not be determined.
	Exists(ctx context.Context) (bool, error)

	// Read returns the artifact bytes, or a NOT_FOUND error when absent.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the artifact atomically.
	Write(ctx context.Context, data []byte) error

	// Location identifies the artifact in logs and journals.
	Location() string
}

// NewStore creates the store selected by cfg for the artifact at location.
func NewStore(cfg config.ArtifactConfig, location string) (Store, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileStore(location), nil
	case "redis":
		rs, err := NewRedisStore(cfg.RedisURL, cfg.KeyPrefix+location)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown artifact type: %s", cfg.Type))
	}
}

// FileStore keeps the artifact in a local file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-based store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Location returns the artifact path.
func (f *FileStore) Location() string {
	return f.path
}

// Exists reports whether the artifact file is present. A directory at the
// path is not an artifact.
func (f *FileStore) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return !info.IsDir(), nil
}

// Read returns the artifact file contents.
func (f *FileStore) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("artifact " + f.path)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Write stores data in a temp file next to the target, syncs it, and renames
// it over the target so a crash never leaves a truncated artifact.
func (f *FileStore) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set artifact permissions: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	committed = true

	return syncDir(dir)
}

// syncDir flushes the directory entry of a rename. Not every platform
// supports syncing directories, so failures there are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
