package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o750
	filePerms = 0o640
)

// ErrInvalidPath is returned for paths that escape the store root.
var ErrInvalidPath = errors.New("storage: invalid path")

// BlobStore persists opaque bytes and hands back a location that can later be deleted.
type BlobStore interface {
	Write(ctx context.Context, path string, data []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// DiskStore keeps blobs under a root directory. Locations are slash-separated paths
// relative to the root.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, dirPerms); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Write stores data at path atomically. An existing blob at the same path is replaced.
func (s *DiskStore) Write(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), dirPerms); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	// atomic.WriteFile leaves new files with the temp file's mode.
	if err := os.Chmod(full, filePerms); err != nil {
		return "", fmt.Errorf("chmod blob: %w", err)
	}
	return filepath.ToSlash(filepath.Clean(path)), nil
}

// Delete removes the blob at location. Deleting a missing blob is not an error.
func (s *DiskStore) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *DiskStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if path == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.root, clean), nil
}
