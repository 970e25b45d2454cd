// Package listfile persists raw list bytes, one file per list kind, with atomic replacement.
package listfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// Store maps list kinds to files under a single directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating the directory when missing.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("listfile: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("listfile: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the persisted location for kind.
func (s *Store) Path(kind domain.ListKind) string {
	return filepath.Join(s.dir, kind.FileName())
}

// Read returns the persisted bytes for kind. A list that was never persisted
// reads as nil with no error.
func (s *Store) Read(kind domain.ListKind) ([]byte, error) {
	b, err := os.ReadFile(s.Path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// Write atomically replaces the persisted bytes for kind.
func (s *Store) Write(kind domain.ListKind, data []byte) error {
	return WriteFileAtomic(s.Path(kind), data, 0o644)
}

// Size returns the persisted size for kind, or 0 when absent.
func (s *Store) Size(kind domain.ListKind) int64 {
	fi, err := os.Stat(s.Path(kind))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Source describes kind as a BlockListSource with its current raw bytes.
func (s *Store) Source(kind domain.ListKind, url string) (domain.BlockListSource, error) {
	raw, err := s.Read(kind)
	if err != nil {
		return domain.BlockListSource{}, err
	}
	return domain.BlockListSource{Kind: kind, URL: url, Path: s.Path(kind), Raw: raw}, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory, syncs it and
// renames it over path. Readers see either the old or the new content, never a torn write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("listfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("listfile: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("listfile: sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("listfile: close temp: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("listfile: chmod temp: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("listfile: rename: %w", err)
	}
	return nil
}
