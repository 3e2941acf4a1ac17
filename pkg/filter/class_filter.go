// Package filter classifies internal class names: which packages only the
// bootstrap loader may define, which classes belong to the platform, and
// which names are compiler-assigned anonymous inner classes.
package filter

import (
	"strings"
	"sync"
)

// ClassCategory represents the category of a class.
type ClassCategory int

const (
	// CategoryUnknown indicates the class category is unknown.
	CategoryUnknown ClassCategory = iota
	// CategoryPrimitive indicates primitive descriptors and arrays of them.
	CategoryPrimitive
	// CategoryArray indicates arrays of reference types.
	CategoryArray
	// CategoryReserved indicates packages only the bootstrap loader may
	// define classes in.
	CategoryReserved
	// CategoryPlatform indicates other platform classes.
	CategoryPlatform
	// CategoryApplication indicates everything else.
	CategoryApplication
)

// String returns the string representation of the category.
func (c ClassCategory) String() string {
	switch c {
	case CategoryPrimitive:
		return "primitive"
	case CategoryArray:
		return "array"
	case CategoryReserved:
		return "reserved"
	case CategoryPlatform:
		return "platform"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

// ClassFilter classifies internal class names (slash separated). It is
// safe for concurrent use.
type ClassFilter struct {
	mu sync.RWMutex

	reservedPrefixes []string
	platformPrefixes []string

	categoryCache     map[string]ClassCategory
	categoryCacheSize int
}

// NewClassFilter creates a new ClassFilter with default rules.
func NewClassFilter() *ClassFilter {
	f := &ClassFilter{
		categoryCache:     make(map[string]ClassCategory),
		categoryCacheSize: 10000,
	}
	f.initDefaults()
	return f
}

func (f *ClassFilter) initDefaults() {
	f.reservedPrefixes = []string{"java/"}
	f.platformPrefixes = []string{
		"javax/",
		"jdk/",
		"sun/",
		"com/sun/",
	}
}

// Classify returns the category of a class name or type descriptor.
func (f *ClassFilter) Classify(className string) ClassCategory {
	if className == "" {
		return CategoryUnknown
	}

	f.mu.RLock()
	if cat, ok := f.categoryCache[className]; ok {
		f.mu.RUnlock()
		return cat
	}
	f.mu.RUnlock()

	cat := f.classifyUncached(className)

	f.mu.Lock()
	if len(f.categoryCache) < f.categoryCacheSize {
		f.categoryCache[className] = cat
	}
	f.mu.Unlock()

	return cat
}

func (f *ClassFilter) classifyUncached(className string) ClassCategory {
	if strings.HasPrefix(className, "[") {
		elem := strings.TrimLeft(className, "[")
		if len(elem) == 1 {
			return CategoryPrimitive
		}
		return CategoryArray
	}
	if len(className) == 1 && strings.ContainsAny(className, "ZBCSIJFDV") {
		return CategoryPrimitive
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, prefix := range f.reservedPrefixes {
		if strings.HasPrefix(className, prefix) {
			return CategoryReserved
		}
	}
	for _, prefix := range f.platformPrefixes {
		if strings.HasPrefix(className, prefix) {
			return CategoryPlatform
		}
	}
	return CategoryApplication
}

// IsReserved returns true if only the bootstrap loader may define the class.
func (f *ClassFilter) IsReserved(className string) bool {
	return f.Classify(className) == CategoryReserved
}

// IsPlatform returns true for reserved and other platform classes.
func (f *ClassFilter) IsPlatform(className string) bool {
	cat := f.Classify(className)
	return cat == CategoryReserved || cat == CategoryPlatform
}

// AddReservedPrefix adds a package prefix only the bootstrap loader may
// define classes in.
func (f *ClassFilter) AddReservedPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.reservedPrefixes {
		if p == prefix {
			return
		}
	}
	f.reservedPrefixes = append(f.reservedPrefixes, prefix)
	f.categoryCache = make(map[string]ClassCategory)
}

// AddPlatformPrefix adds a platform package prefix.
func (f *ClassFilter) AddPlatformPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.platformPrefixes = append(f.platformPrefixes, prefix)
	f.categoryCache = make(map[string]ClassCategory)
}

// ClearCache clears the classification cache.
func (f *ClassFilter) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.categoryCache = make(map[string]ClassCategory)
}

// CacheStats returns cache statistics.
func (f *ClassFilter) CacheStats() (size int, maxSize int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.categoryCache), f.categoryCacheSize
}

// SetCacheSize sets the maximum cache size.
func (f *ClassFilter) SetCacheSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.categoryCacheSize = size
	if len(f.categoryCache) > size {
		f.categoryCache = make(map[string]ClassCategory)
	}
}

// IsAnonymous reports whether className names a compiler-numbered
// anonymous class, such as p/Outer$1 or p/Outer$Inner$12.
func IsAnonymous(className string) bool {
	_, ok := AnonymousOuter(className)
	return ok
}

// AnonymousOuter returns the enclosing class name of an anonymous class.
func AnonymousOuter(className string) (string, bool) {
	i := strings.LastIndexByte(className, '$')
	if i <= 0 || i == len(className)-1 {
		return "", false
	}
	for _, c := range className[i+1:] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return className[:i], true
}

// DefaultFilter is the default global filter instance.
var DefaultFilter = NewClassFilter()

// Classify classifies a class using the default filter.
func Classify(className string) ClassCategory {
	return DefaultFilter.Classify(className)
}

// IsReserved checks if a class is in a bootstrap-only package using the
// default filter.
func IsReserved(className string) bool {
	return DefaultFilter.IsReserved(className)
}

// IsPlatform checks if a class is a platform class using the default filter.
func IsPlatform(className string) bool {
	return DefaultFilter.IsPlatform(className)
}
