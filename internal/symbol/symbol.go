// Package symbol provides the interned, immutable byte strings used as
// identity keys throughout the linker: class names, type descriptors,
// method signatures and constant strings.
//
// A Symbol carries a phantom role so that a type descriptor can never be
// passed where a member name is expected. Symbols obtained from the same
// Table are canonical: equal content implies pointer equality.
package symbol

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Tag identifies the role of a symbol.
type Tag uint8

const (
	TagName Tag = iota
	TagType
	TagSignature
	TagConstant
)

// String returns the string representation of Tag.
func (t Tag) String() string {
	switch t {
	case TagName:
		return "name"
	case TagType:
		return "type"
	case TagSignature:
		return "signature"
	case TagConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Role is the phantom type parameter of Symbol.
type Role interface {
	tag() Tag
}

type nameRole struct{}
type typeRole struct{}
type signatureRole struct{}
type constantRole struct{}

func (nameRole) tag() Tag      { return TagName }
func (typeRole) tag() Tag      { return TagType }
func (signatureRole) tag() Tag { return TagSignature }
func (constantRole) tag() Tag  { return TagConstant }

// Symbol is an immutable byte sequence tagged with a role.
type Symbol[R Role] struct {
	value  string
	hash   atomic.Uint32
	hashed atomic.Bool
}

type (
	// Name is a member or class name in internal form ("java/lang/Object", "<init>").
	Name = Symbol[nameRole]
	// Type is a field type descriptor ("I", "Ljava/lang/Object;", "[J").
	Type = Symbol[typeRole]
	// Signature is a method descriptor ("(ILjava/lang/String;)V").
	Signature = Symbol[signatureRole]
	// Constant is the content of a string constant.
	Constant = Symbol[constantRole]
)

// String returns the symbol content.
func (s *Symbol[R]) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.value
}

// Bytes returns a copy of the symbol content.
func (s *Symbol[R]) Bytes() []byte {
	return []byte(s.value)
}

// Len returns the content length in bytes.
func (s *Symbol[R]) Len() int {
	return len(s.value)
}

// Tag returns the role of the symbol.
func (s *Symbol[R]) Tag() Tag {
	var r R
	return r.tag()
}

// Hash returns the FNV-1a hash of the content, computed once.
func (s *Symbol[R]) Hash() uint32 {
	if s.hashed.Load() {
		return s.hash.Load()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s.value))
	v := h.Sum32()
	s.hash.Store(v)
	s.hashed.Store(true)
	return v
}

// Equal compares two symbols by content.
func (s *Symbol[R]) Equal(other *Symbol[R]) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	return s.value == other.value
}

type tableKey struct {
	tag   Tag
	value string
}

// Table interns symbols. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	byKey map[tableKey]any
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{byKey: make(map[tableKey]any, 1024)}
}

func intern[R Role](t *Table, value string) *Symbol[R] {
	var r R
	key := tableKey{tag: r.tag(), value: value}

	// Fast path: read-only lookup
	t.mu.RLock()
	if s, ok := t.byKey[key]; ok {
		t.mu.RUnlock()
		return s.(*Symbol[R])
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := t.byKey[key]; ok {
		return s.(*Symbol[R])
	}
	s := &Symbol[R]{value: value}
	t.byKey[key] = s
	return s
}

func lookup[R Role](t *Table, value string) (*Symbol[R], bool) {
	var r R
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byKey[tableKey{tag: r.tag(), value: value}]
	if !ok {
		return nil, false
	}
	return s.(*Symbol[R]), true
}

// Name interns a name.
func (t *Table) Name(value string) *Name { return intern[nameRole](t, value) }

// NameBytes interns a name from raw bytes.
func (t *Table) NameBytes(b []byte) *Name { return intern[nameRole](t, string(b)) }

// Type interns a type descriptor.
func (t *Table) Type(value string) *Type { return intern[typeRole](t, value) }

// Signature interns a method descriptor.
func (t *Table) Signature(value string) *Signature { return intern[signatureRole](t, value) }

// Constant interns string constant content.
func (t *Table) Constant(value string) *Constant { return intern[constantRole](t, value) }

// LookupType returns an already-interned type without creating it.
func (t *Table) LookupType(value string) (*Type, bool) { return lookup[typeRole](t, value) }

// Len returns the number of interned symbols across all roles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}
