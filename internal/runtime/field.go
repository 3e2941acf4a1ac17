package runtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
)

// Field is a field of an object class.
type Field struct {
	holder    *ObjectKlass
	linked    *linker.LinkedField
	name      *symbol.Name
	typ       *symbol.Type
	typeKlass collections.Memo[Klass]
}

func newField(holder *ObjectKlass, lf *linker.LinkedField) *Field {
	symbols := holder.env.Symbols
	return &Field{
		holder: holder,
		linked: lf,
		name:   symbols.Name(lf.Name),
		typ:    symbols.Type(lf.Type),
	}
}

// Holder returns the declaring class.
func (f *Field) Holder() *ObjectKlass { return f.holder }

// Name returns the field name.
func (f *Field) Name() *symbol.Name { return f.name }

// Type returns the field type descriptor.
func (f *Field) Type() *symbol.Type { return f.typ }

// Kind returns the storage kind.
func (f *Field) Kind() kind.Kind { return f.linked.Kind }

// Flags returns the access flags.
func (f *Field) Flags() uint16 { return f.linked.Flags() }

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.linked.Static }

// IsHidden reports whether the field is implementation-reserved.
func (f *Field) IsHidden() bool { return f.linked.Hidden }

// Slot returns the position of the field in its table.
func (f *Field) Slot() int { return f.linked.Slot }

// Index returns the byte offset of a primitive field or the reference slot
// of a reference field.
func (f *Field) Index() int { return f.linked.Index }

// Linked returns the linked field.
func (f *Field) Linked() *linker.LinkedField { return f.linked }

// ResolveType returns the klass of the field's declared type as seen from
// the holder's loader. The result is cached.
func (f *Field) ResolveType(ctx context.Context) (Klass, error) {
	return f.typeKlass.Get(func() (Klass, error) {
		if k := f.Kind(); k.IsPrimitive() {
			return f.holder.env.Primitive(k), nil
		}
		resolver := f.holder.env.Resolver
		if resolver == nil {
			return nil, apperrors.Newf(apperrors.CodeInternal, "no resolver configured for %s", f)
		}
		k, err := resolver.Resolve(ctx, f.typ, f.holder.Loader())
		if err != nil {
			return nil, err
		}
		if k == nil {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "%s: type %s not found", f, f.typ)
		}
		return k, nil
	})
}

func (f *Field) String() string {
	return fmt.Sprintf("%s.%s", f.holder, f.name)
}

// sameShape reports whether two linked fields occupy the same storage.
func sameShape(a, b *linker.LinkedField) bool {
	return a.Name == b.Name && a.Type == b.Type && a.Static == b.Static && a.Index == b.Index && a.Slot == b.Slot
}

// StaticStorage holds the static fields of one class: a byte region for
// primitives and a slot array for references.
type StaticStorage struct {
	mu         sync.RWMutex
	primitives []byte
	objects    []any
}

func newStaticStorage(bytes, objects int) *StaticStorage {
	return &StaticStorage{primitives: make([]byte, bytes), objects: make([]any, objects)}
}

func checkStatic(f *Field) {
	if !f.IsStatic() {
		apperrors.Internal("%s is not static", f)
	}
}

// Primitive returns the raw bits of a static primitive field.
func (s *StaticStorage) Primitive(f *Field) uint64 {
	checkStatic(f)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.primitives[f.Index():]
	switch f.Kind().Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// SetPrimitive stores the low bits of v into a static primitive field.
func (s *StaticStorage) SetPrimitive(f *Field, v uint64) {
	checkStatic(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.primitives[f.Index():]
	switch f.Kind().Size() {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// Object returns the value of a static reference field.
func (s *StaticStorage) Object(f *Field) any {
	checkStatic(f)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[f.Index()]
}

// SetObject stores a static reference field.
func (s *StaticStorage) SetObject(f *Field, v any) {
	checkStatic(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[f.Index()] = v
}

// setConstant stores the ConstantValue of a static final field. String
// constants are stored as interned constants; creating guest strings is the
// executor's business.
func setConstant(s *StaticStorage, f *Field, pool *classfile.ConstantPool, symbols *symbol.Table) error {
	idx := f.linked.Parsed.ConstantValueIndex
	switch linker.ConstantKind(f.Kind()) {
	case kind.Int:
		v, err := pool.Int(idx)
		if err != nil {
			return err
		}
		s.SetPrimitive(f, uint64(uint32(v)))
	case kind.Long:
		v, err := pool.Long(idx)
		if err != nil {
			return err
		}
		s.SetPrimitive(f, uint64(v))
	case kind.Float:
		c, err := pool.Entry(idx)
		if err != nil {
			return err
		}
		s.SetPrimitive(f, c.Bits)
	case kind.Double:
		c, err := pool.Entry(idx)
		if err != nil {
			return err
		}
		s.SetPrimitive(f, c.Bits)
	case kind.Object:
		v, err := pool.StringValue(idx)
		if err != nil {
			return err
		}
		s.SetObject(f, symbols.Constant(v))
	}
	return nil
}
