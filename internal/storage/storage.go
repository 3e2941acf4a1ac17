// Package storage provides the byte stores class files are read from: local
// directories, Tencent Cloud COS buckets and in-memory maps.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/klasslink/pkg/config"
	apperrors "github.com/klasslink/pkg/errors"
)

// Storage is a flat key/value byte store. Keys use forward slashes.
type Storage interface {
	// Read returns the bytes stored at key. A missing key yields an error
	// for which IsNotFound reports true.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores the contents of reader at key.
	Write(ctx context.Context, key string, reader io.Reader) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key below prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// GetURL returns a locator for key, for diagnostics.
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal  StorageType = "local"
	StorageTypeCOS    StorageType = "cos"
	StorageTypeMemory StorageType = "memory"
)

// NewStorage creates a Storage for cfg. For local storage root is the
// directory to serve; the other backends ignore it.
func NewStorage(cfg *config.StorageConfig, root string) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
			Endpoint:  cfg.Endpoint,
		})
	case StorageTypeMemory:
		return NewMemoryStorage(), nil
	default:
		return NewLocalStorage(root)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeLocal, StorageTypeMemory:
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
	}
	return nil
}

// IsNotFound reports whether err marks a missing key.
func IsNotFound(err error) bool {
	return apperrors.IsNotFound(err)
}

func notFound(key string) error {
	return apperrors.Newf(apperrors.CodeNotFound, "no object at %s", key)
}

func storageError(op, key string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("%s %s", op, key), err)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
