package redefine

import (
	"context"
	"sync"

	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/pkg/utils"
)

// Store persists fingerprints across processes. Loaders are identified by
// name.
type Store interface {
	SaveFingerprints(ctx context.Context, loader, outer string, infos []*ClassInfo) error
	// LoadFingerprints reports false when nothing was saved for the pair.
	LoadFingerprints(ctx context.Context, loader, outer string) ([]*ClassInfo, bool, error)
	DeleteFingerprints(ctx context.Context, loader string) error
}

type cacheKey struct {
	loader runtime.Loader
	outer  string
}

// FingerprintCache remembers, per loader and outer class, the fingerprints
// of the anonymous classes installed by the last redefinition. It belongs
// to one VM context; independent contexts use independent caches.
type FingerprintCache struct {
	mu      sync.Mutex
	entries map[cacheKey][]*ClassInfo
	store   Store
	logger  utils.Logger
}

// NewFingerprintCache creates an empty cache. store may be nil.
func NewFingerprintCache(store Store, logger utils.Logger) *FingerprintCache {
	return &FingerprintCache{
		entries: make(map[cacheKey][]*ClassInfo),
		store:   store,
		logger:  utils.OrNull(logger),
	}
}

// Get returns the fingerprint trees for outer as seen by loader, falling
// back to the store.
func (c *FingerprintCache) Get(ctx context.Context, loader runtime.Loader, outer string) ([]*ClassInfo, bool, error) {
	key := cacheKey{loader, outer}
	c.mu.Lock()
	infos, ok := c.entries[key]
	c.mu.Unlock()
	if ok || c.store == nil {
		return infos, ok, nil
	}

	infos, ok, err := c.store.LoadFingerprints(ctx, runtime.LoaderName(loader), outer)
	if err != nil || !ok {
		return nil, false, err
	}
	c.mu.Lock()
	c.entries[key] = infos
	c.mu.Unlock()
	c.logger.Debug("loaded %d fingerprints of %s from store", len(Flatten(infos)), outer)
	return infos, true, nil
}

// Put replaces the fingerprint trees for outer and writes them through to
// the store.
func (c *FingerprintCache) Put(ctx context.Context, loader runtime.Loader, outer string, infos []*ClassInfo) error {
	c.mu.Lock()
	c.entries[cacheKey{loader, outer}] = infos
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.SaveFingerprints(ctx, runtime.LoaderName(loader), outer, infos)
}

// ForgetLoader drops every entry of loader, for use when the loader is
// unloaded.
func (c *FingerprintCache) ForgetLoader(ctx context.Context, loader runtime.Loader) error {
	c.mu.Lock()
	for key := range c.entries {
		if key.loader == loader {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.DeleteFingerprints(ctx, runtime.LoaderName(loader))
}

// Len returns the number of cached outer classes.
func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset empties the in-memory cache. The store is not touched.
func (c *FingerprintCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[cacheKey][]*ClassInfo)
	c.mu.Unlock()
}
