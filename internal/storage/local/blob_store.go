// Package local archives crawl results on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Config selects the archive root.
type Config struct {
	BaseDir string
}

// BlobStore writes archives below a root directory. Writes go to a temp file
// in the destination directory and are renamed into place, so readers never
// observe a partially written archive.
type BlobStore struct {
	root string
}

// New prepares the root directory, creating it when missing, and verifies it
// accepts writes.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("storage.base_dir is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat base dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base dir %s is not a directory", root)
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("base dir %s is not writable: %w", root, err)
	}
	name := probe.Name()
	_ = probe.Close() //nolint:errcheck
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Root returns the absolute archive root.
func (s *BlobStore) Root() string {
	return s.root
}

// PutObject stores the reader's contents at path (relative to the root) and
// returns a file:// URI. The content type is not persisted.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName) //nolint:errcheck
		}
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close() //nolint:errcheck
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close() //nolint:errcheck
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	committed = true

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

// resolve maps an object path onto the filesystem, rejecting anything that
// would land outside the root.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("object path is required")
	}
	target := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes the archive root", path)
	}
	return target, nil
}
