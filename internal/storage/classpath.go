package storage

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/klasslink/pkg/config"
	"github.com/klasslink/pkg/utils"
)

// ClassSuffix is the key suffix of class files.
const ClassSuffix = ".class"

// Entry is one class path element: a store and the key prefix classes live
// under.
type Entry struct {
	Storage Storage
	Prefix  string
}

func (e Entry) key(name string) string {
	if e.Prefix == "" {
		return name + ClassSuffix
	}
	return path.Join(e.Prefix, name+ClassSuffix)
}

// ClassPath reads class bytes from an ordered list of entries. The first
// entry holding a class wins.
type ClassPath struct {
	entries []Entry
	logger  utils.Logger
}

// NewClassPath creates a class path over entries.
func NewClassPath(logger utils.Logger, entries ...Entry) *ClassPath {
	return &ClassPath{entries: entries, logger: utils.OrNull(logger)}
}

// FromConfig builds the class path described by cfg. Local storage opens
// one directory per entry; COS and memory storage share one store and use
// the entries as key prefixes.
func FromConfig(cfg *config.ClassPathConfig, logger utils.Logger) (*ClassPath, error) {
	if StorageType(cfg.Storage.Type) == StorageTypeLocal || cfg.Storage.Type == "" {
		entries := make([]Entry, 0, len(cfg.Entries))
		for _, dir := range cfg.Entries {
			s, err := NewStorage(&cfg.Storage, dir)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Storage: s})
		}
		return NewClassPath(logger, entries...), nil
	}

	s, err := NewStorage(&cfg.Storage, "")
	if err != nil {
		return nil, err
	}
	prefixes := cfg.Entries
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	entries := make([]Entry, len(prefixes))
	for i, p := range prefixes {
		entries[i] = Entry{Storage: s, Prefix: p}
	}
	return NewClassPath(logger, entries...), nil
}

// Entries returns the class path elements in search order.
func (cp *ClassPath) Entries() []Entry {
	return cp.entries
}

// ReadClass returns the bytes of the class with the given internal name.
// A class found in no entry yields nil bytes and a nil error.
func (cp *ClassPath) ReadClass(ctx context.Context, name string) ([]byte, error) {
	for _, e := range cp.entries {
		key := e.key(name)
		data, err := e.Storage.Read(ctx, key)
		if err == nil {
			cp.logger.Debug("read %s from %s (%d bytes)", name, e.Storage.GetURL(key), len(data))
			return data, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

// Classes lists the internal names of every class on the path, without
// duplicates, sorted.
func (cp *ClassPath) Classes(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, e := range cp.entries {
		prefix := e.Prefix
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		keys, err := e.Storage.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !strings.HasSuffix(k, ClassSuffix) {
				continue
			}
			seen[strings.TrimSuffix(strings.TrimPrefix(k, prefix), ClassSuffix)] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
