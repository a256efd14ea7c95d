package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"wordchat/internal/domain"
)

// FileBlobs implements domain.BlobStore with one file per key.
type FileBlobs struct {
	dir string
}

func NewFileBlobs(dir string) *FileBlobs {
	if dir == "" {
		dir = filepath.Join(".wordchat", "store")
	}
	return &FileBlobs{dir: dir}
}

func (f *FileBlobs) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *FileBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put writes through a temp file and rename so readers never see a partial blob.
func (f *FileBlobs) Put(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileBlobs) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *FileBlobs) Close() error { return nil }
