package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/klasslink/pkg/errors"
)

// LocalStorage implements Storage over a directory tree.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage serves basePath, which must be an existing directory.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "."
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, storageError("open", basePath, err)
	}
	if !info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeStorageError, "%s is not a directory", basePath)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// GetBasePath returns the served directory.
func (s *LocalStorage) GetBasePath() string {
	return s.basePath
}

// Read reads the file at key.
func (s *LocalStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, storageError("read", key, err)
	}
	return data, nil
}

// Write creates or replaces the file at key.
func (s *LocalStorage) Write(ctx context.Context, key string, reader io.Reader) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	fullPath := s.getFullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return storageError("write", key, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return storageError("write", key, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return storageError("write", key, err)
	}
	return nil
}

// Delete removes the file at key.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.getFullPath(key)); err != nil && !os.IsNotExist(err) {
		return storageError("delete", key, err)
	}
	return nil
}

// Exists checks if a regular file is present at key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	info, err := os.Stat(s.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storageError("stat", key, err)
	}
	return !info.IsDir(), nil
}

// List walks the tree below prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := checkContext(ctx); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetURL returns the file path of key.
func (s *LocalStorage) GetURL(key string) string {
	return s.getFullPath(key)
}

func (s *LocalStorage) getFullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
