package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// FSStore keeps artifacts as files under a root directory, one directory per prefix.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("NewFSStore: creating %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(prefix string, kind Kind) (dir, file string) {
	dir = filepath.Join(s.root, url.PathEscape(prefix))
	return dir, filepath.Join(dir, string(kind)+".json")
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, prefix string, kind Kind) ([]byte, error) {
	_, file := s.path(prefix, kind)
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FSStore.Get: reading %s: %w", file, err)
	}
	return data, nil
}

// Put writes to a temporary file in the target directory and renames it into place.
func (s *FSStore) Put(ctx context.Context, prefix string, kind Kind, data []byte) error {
	dir, file := s.path(prefix, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("FSStore.Put: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+string(kind)+"-*")
	if err != nil {
		return fmt.Errorf("FSStore.Put: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("FSStore.Put: writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("FSStore.Put: syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("FSStore.Put: closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("FSStore.Put: renaming into %s: %w", file, err)
	}
	return nil
}

// Delete implements Deleter. The prefix directory is removed once empty.
func (s *FSStore) Delete(ctx context.Context, prefix string, kind Kind) error {
	dir, file := s.path(prefix, kind)
	if err := os.Remove(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
		}
		return fmt.Errorf("FSStore.Delete: %w", err)
	}
	_ = os.Remove(dir)
	return nil
}

var (
	_ Store   = (*FSStore)(nil)
	_ Deleter = (*FSStore)(nil)
)
