package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"

	apperrors "github.com/klasslink/pkg/errors"
)

// COSConfig holds COS-specific configuration.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // e.g., "myqcloud.com"
	Scheme    string // e.g., "https" or "http"
	// Endpoint replaces the bucket URL derived from the fields above, for
	// COS-compatible gateways.
	Endpoint string
}

// COSStorage implements Storage over a Tencent Cloud COS bucket.
type COSStorage struct {
	client *cos.Client
	base   string
}

// NewCOSStorage creates a new COSStorage instance.
func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, apperrors.New(apperrors.CodeConfigError, "bucket and region are required for COS storage")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, apperrors.New(apperrors.CodeConfigError, "credentials are required for COS storage")
	}

	// Set defaults for domain and scheme
	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	bucket := fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain)
	service := fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain)
	if cfg.Endpoint != "" {
		bucket = strings.TrimSuffix(cfg.Endpoint, "/")
		service = bucket
	}

	bucketURL, err := url.Parse(bucket)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid bucket URL", err)
	}
	serviceURL, err := url.Parse(service)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid service URL", err)
	}

	client := cos.NewClient(&cos.BaseURL{
		BucketURL:  bucketURL,
		ServiceURL: serviceURL,
	}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &COSStorage{client: client, base: bucket}, nil
}

// listPageSize bounds one bucket listing request.
const listPageSize = 1000

// Read downloads the object at key.
func (s *COSStorage) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, notFound(key)
		}
		return nil, storageError("download", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, storageError("download", key, err)
	}
	return data, nil
}

// Write uploads the contents of reader to key.
func (s *COSStorage) Write(ctx context.Context, key string, reader io.Reader) error {
	if _, err := s.client.Object.Put(ctx, key, reader, nil); err != nil {
		return storageError("upload", key, err)
	}
	return nil
}

// Delete deletes the object at key.
func (s *COSStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key, nil); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}

// Exists checks if an object is present at key.
func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, storageError("stat", key, err)
	}
	return ok, nil
}

// List pages through the bucket listing below prefix.
func (s *COSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opt := &cos.BucketGetOptions{Prefix: prefix, MaxKeys: listPageSize}
	for {
		result, _, err := s.client.Bucket.Get(ctx, opt)
		if err != nil {
			return nil, storageError("list", prefix, err)
		}
		for _, obj := range result.Contents {
			keys = append(keys, obj.Key)
		}
		if !result.IsTruncated {
			break
		}
		opt.Marker = result.NextMarker
	}
	sort.Strings(keys)
	return keys, nil
}

// GetURL returns the public URL of key.
func (s *COSStorage) GetURL(key string) string {
	return s.base + "/" + key
}
