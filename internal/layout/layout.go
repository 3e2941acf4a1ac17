// Package layout assigns storage to the fields of a class.
//
// Primitive fields are packed into a byte region, largest kind first, with
// every field aligned to its own size. Byte ranges a superclass left unused
// ("holes") are filled before the region is extended. Reference fields live
// in a separate slot space and are numbered sequentially. Instance and static
// fields are laid out independently.
package layout

import (
	"fmt"
	"strings"

	"github.com/klasslink/internal/kind"
)

// Hole is an unused byte range [Start, End).
type Hole struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the length of the hole in bytes.
func (h Hole) Size() int { return h.End - h.Start }

func (h Hole) String() string { return fmt.Sprintf("[%d,%d)", h.Start, h.End) }

// FieldSpec is a field to be placed.
type FieldSpec struct {
	Name   string
	Type   string
	Kind   kind.Kind
	Static bool
	Hidden bool
}

// Field is a placed field.
type Field struct {
	FieldSpec
	// Slot is the position of the field in its table. Instance slots
	// continue after the superclass's instance fields; static slots start
	// at zero.
	Slot int
	// Index is a byte offset for primitive fields and a reference slot
	// number for reference fields.
	Index int
}

// End returns the first byte after a primitive field.
func (f Field) End() int { return f.Index + f.Kind.Size() }

// Result is the layout of one class.
type Result struct {
	// InstanceFields and StaticFields hold this class's own fields (declared
	// then hidden) in slot order.
	InstanceFields []Field
	StaticFields   []Field

	// InstanceFieldCount is the instance field table length, inherited
	// fields included.
	InstanceFieldCount int

	InstanceBytes   int
	StaticBytes     int
	InstanceObjects int
	StaticObjects   int

	InstanceHoles []Hole
	StaticHoles   []Hole
}

// Compute lays out declared and hidden fields on top of super, which may be
// nil for a class without a superclass.
func Compute(super *Result, declared, hidden []FieldSpec) *Result {
	if super == nil {
		super = &Result{}
	}
	all := make([]FieldSpec, 0, len(declared)+len(hidden))
	all = append(all, declared...)
	all = append(all, hidden...)

	var instance, static []FieldSpec
	for _, f := range all {
		if f.Static {
			static = append(static, f)
		} else {
			instance = append(instance, f)
		}
	}

	r := &Result{}

	in := newRegion(super.InstanceBytes, super.InstanceHoles, instance)
	r.InstanceFields = in.assign(instance, super.InstanceFieldCount, super.InstanceObjects)
	r.InstanceFieldCount = super.InstanceFieldCount + len(instance)
	r.InstanceBytes = in.total
	r.InstanceObjects = super.InstanceObjects + in.objects
	r.InstanceHoles = append(in.leftover, in.gapLeftover...)

	st := newRegion(super.StaticBytes, super.StaticHoles, static)
	r.StaticFields = st.assign(static, 0, super.StaticObjects)
	r.StaticBytes = st.total
	r.StaticObjects = super.StaticObjects + st.objects
	// Static holes are reused by the direct subclass only.
	r.StaticHoles = st.gapLeftover

	return r
}

// region schedules the primitive fields of one storage class.
type region struct {
	counts      [kind.NumPrimitives]int
	scheduled   [kind.NumPrimitives][]int
	leftover    []Hole
	gapLeftover []Hole
	objects     int
	groupStart  [kind.NumPrimitives]int
	total       int
}

func newRegion(superBytes int, holes []Hole, fields []FieldSpec) *region {
	g := &region{}
	for _, f := range fields {
		if f.Kind.IsPrimitive() {
			g.counts[f.Kind.Order()]++
		} else {
			g.objects++
		}
	}

	for _, h := range holes {
		g.leftover = g.fill(h, g.leftover)
	}

	start := superBytes
	for i, k := range kind.Primitives {
		if g.counts[i] > 0 {
			start = alignUp(superBytes, k.Size())
			break
		}
	}
	if start > superBytes {
		// The alignment gap is itself a hole for smaller kinds.
		g.gapLeftover = g.fill(Hole{Start: superBytes, End: start}, nil)
	}

	offset := start
	for i, k := range kind.Primitives {
		g.groupStart[i] = offset
		offset += g.counts[i] * k.Size()
	}
	g.total = offset
	return g
}

// fill packs pending fields into h, largest kind first. When the first
// aligned position for a kind is past h.Start, the misaligned head is
// filled recursively with smaller kinds. Unfilled space is appended to out.
func (g *region) fill(h Hole, out []Hole) []Hole {
	for i, k := range kind.Primitives {
		size := k.Size()
		for g.counts[i] > 0 {
			at := alignUp(h.Start, size)
			if at+size > h.End {
				break
			}
			if at > h.Start {
				out = g.fill(Hole{Start: h.Start, End: at}, out)
			}
			g.scheduled[i] = append(g.scheduled[i], at)
			g.counts[i]--
			h.Start = at + size
		}
	}
	if h.Start < h.End {
		out = append(out, h)
	}
	return out
}

// assign hands out offsets in declaration order: scheduled hole positions
// first, then the kind's contiguous group.
func (g *region) assign(fields []FieldSpec, firstSlot, firstObject int) []Field {
	var used [kind.NumPrimitives]int
	var appended [kind.NumPrimitives]int
	nextObject := firstObject

	out := make([]Field, 0, len(fields))
	for i, f := range fields {
		placed := Field{FieldSpec: f, Slot: firstSlot + i}
		if !f.Kind.IsPrimitive() {
			placed.Index = nextObject
			nextObject++
		} else {
			o := f.Kind.Order()
			if used[o] < len(g.scheduled[o]) {
				placed.Index = g.scheduled[o][used[o]]
				used[o]++
			} else {
				placed.Index = g.groupStart[o] + appended[o]*f.Kind.Size()
				appended[o]++
			}
		}
		out = append(out, placed)
	}
	return out
}

func alignUp(offset, size int) int {
	if r := offset % size; r != 0 {
		return offset + size - r
	}
	return offset
}

// HiddenFields returns the implementation-reserved fields injected into the
// named class, or nil for classes without any.
func HiddenFields(className string) []FieldSpec {
	return hiddenFields[className]
}

// IsHidden reports whether a field name belongs to the reserved namespace.
// Reserved names start with a digit, which no source-level field can.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, "0")
}

func hidden(name string, k kind.Kind) FieldSpec {
	desc := string(k.Char())
	if k == kind.Object {
		desc = "Ljava/lang/Object;"
	}
	return FieldSpec{Name: name, Type: desc, Kind: k, Hidden: true}
}

var hiddenFields = map[string][]FieldSpec{
	"java/lang/Class": {
		hidden("0HIDDEN_MIRROR_KLASS", kind.Object),
		hidden("0HIDDEN_SIGNERS", kind.Object),
		hidden("0HIDDEN_PROTECTION_DOMAIN", kind.Object),
	},
	"java/lang/Thread": {
		hidden("0HIDDEN_HOST_THREAD", kind.Object),
		hidden("0HIDDEN_DEATH_THROWABLE", kind.Object),
		hidden("0HIDDEN_INTERRUPTED", kind.Boolean),
		hidden("0HIDDEN_THREAD_ID", kind.Long),
	},
	"java/lang/Throwable": {
		hidden("0HIDDEN_FRAMES", kind.Object),
		hidden("0HIDDEN_EXCEPTION_WRAPPER", kind.Object),
	},
	"java/lang/ref/Reference": {
		hidden("0HIDDEN_HOST_REFERENCE", kind.Object),
	},
	"java/lang/reflect/Method": {
		hidden("0HIDDEN_METHOD_KEY", kind.Object),
		hidden("0HIDDEN_METHOD_TYPE_ANNOTATIONS", kind.Object),
	},
	"java/lang/reflect/Field": {
		hidden("0HIDDEN_FIELD_KEY", kind.Object),
		hidden("0HIDDEN_FIELD_TYPE_ANNOTATIONS", kind.Object),
	},
	"java/lang/reflect/Constructor": {
		hidden("0HIDDEN_CONSTRUCTOR_KEY", kind.Object),
		hidden("0HIDDEN_CONSTRUCTOR_TYPE_ANNOTATIONS", kind.Object),
	},
	"java/lang/invoke/MemberName": {
		hidden("0HIDDEN_VMTARGET", kind.Object),
		hidden("0HIDDEN_VMINDEX", kind.Long),
	},
}
