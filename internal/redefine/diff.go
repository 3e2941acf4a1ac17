package redefine

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/klasslink/internal/classfile"
)

// MethodDiff classifies one method of the new version.
type MethodDiff struct {
	Name       string
	Descriptor string
	// Change is NoChange or MethodBodyChange.
	Change ClassChange
	// Obsolete is set when the bytecode is byte-identical but a constant it
	// refers to has a different value in the new constant pool.
	Obsolete bool
}

// Diff is the classification of the difference between two versions of a
// class.
type Diff struct {
	Class  string
	Change ClassChange
	// Reason names the first difference that decided Change.
	Reason string
	// Methods is filled in only when Change is at most MethodBodyChange.
	Methods []MethodDiff
}

// ChangedMethods returns name+descriptor of every method whose body
// changed.
func (d *Diff) ChangedMethods() []string {
	var out []string
	for _, m := range d.Methods {
		if m.Change == MethodBodyChange {
			out = append(out, m.Name+m.Descriptor)
		}
	}
	return out
}

func (d *Diff) set(change ClassChange, format string, args ...any) *Diff {
	d.Change = change
	d.Reason = fmt.Sprintf(format, args...)
	return d
}

// DetectChanges compares an old and a new version of the same class. The
// checks run from the cheapest and least patchable to the most detailed,
// and the first one that finds a difference decides the result. Methods of
// next whose body changed are marked with MarkChanged.
func DetectChanges(old, next *classfile.ParsedClass) *Diff {
	d := &Diff{Class: next.Name.String()}
	if old.Name.String() != next.Name.String() {
		return d.set(InvalidClassFormat, "class name changed from %s", old.Name)
	}
	if len(old.Bytes) > 0 && bytes.Equal(old.Bytes, next.Bytes) {
		d.Methods = methodDiffs(next.Methods)
		return d
	}

	if reason := hierarchyDiff(old, next); reason != "" {
		return d.set(HierarchyChange, "%s", reason)
	}
	if of, nf := old.Flags&^classfile.AccSuper, next.Flags&^classfile.AccSuper; of != nf {
		return d.set(ClassModifiersChange, "class modifiers changed from %#04x to %#04x", of, nf)
	}
	if reason := fieldsDiff(old, next); reason != "" {
		return d.set(SchemaChange, "%s", reason)
	}

	switch {
	case len(next.Methods) > len(old.Methods):
		m := unmatched(next.Methods, old)
		return d.set(AddMethod, "method %s%s added", m.Name, m.Descriptor)
	case len(next.Methods) < len(old.Methods):
		m := unmatched(old.Methods, next)
		return d.set(DeleteMethod, "method %s%s deleted", m.Name, m.Descriptor)
	}

	pairs := make([][2]*classfile.ParsedMethod, len(next.Methods))
	for i, nm := range next.Methods {
		om := old.FindMethod(nm.Name.String(), nm.Descriptor.String())
		if om == nil {
			m := unmatched(old.Methods, next)
			return d.set(DeleteMethod, "method %s%s deleted", m.Name, m.Descriptor)
		}
		if om.Flags != nm.Flags {
			return d.set(MethodModifiersChange, "method %s%s modifiers changed from %#04x to %#04x", nm.Name, nm.Descriptor, om.Flags, nm.Flags)
		}
		pairs[i] = [2]*classfile.ParsedMethod{om, nm}
	}
	for _, p := range pairs {
		if reason := signatureDiff(p[0], p[1]); reason != "" {
			return d.set(SchemaChange, "method %s%s: %s", p[1].Name, p[1].Descriptor, reason)
		}
	}

	poolChanged := !old.Pool.Equal(next.Pool)
	changed := false
	d.Methods = make([]MethodDiff, len(pairs))
	for i, p := range pairs {
		om, nm := p[0], p[1]
		md := MethodDiff{Name: nm.Name.String(), Descriptor: nm.Descriptor.String()}
		switch {
		case bodyDiffers(om.Code, nm.Code):
			md.Change = MethodBodyChange
		case poolChanged && nm.Code != nil && referencesChanged(nm.Code, old.Pool, next.Pool):
			md.Change = MethodBodyChange
			md.Obsolete = true
		}
		if md.Change == MethodBodyChange {
			nm.MarkChanged()
			changed = true
		}
		d.Methods[i] = md
	}

	switch {
	case changed:
		d.Change = MethodBodyChange
		d.Reason = "method bodies changed: " + strings.Join(d.ChangedMethods(), ", ")
	case poolChanged:
		d.Change = ConstantPoolChange
		d.Reason = "constant pool changed"
	}
	return d
}

func methodDiffs(methods []*classfile.ParsedMethod) []MethodDiff {
	out := make([]MethodDiff, len(methods))
	for i, m := range methods {
		out[i] = MethodDiff{Name: m.Name.String(), Descriptor: m.Descriptor.String()}
	}
	return out
}

// unmatched returns the first method of methods that other does not
// declare.
func unmatched(methods []*classfile.ParsedMethod, other *classfile.ParsedClass) *classfile.ParsedMethod {
	for _, m := range methods {
		if other.FindMethod(m.Name.String(), m.Descriptor.String()) == nil {
			return m
		}
	}
	return methods[len(methods)-1]
}

func hierarchyDiff(old, next *classfile.ParsedClass) string {
	if superName(old) != superName(next) {
		return fmt.Sprintf("superclass changed from %q to %q", superName(old), superName(next))
	}
	oi, ni := interfaceNames(old), interfaceNames(next)
	if !slices.Equal(oi, ni) {
		return fmt.Sprintf("interfaces changed from %v to %v", oi, ni)
	}
	return ""
}

func superName(c *classfile.ParsedClass) string {
	if c.SuperName == nil {
		return ""
	}
	return c.SuperName.String()
}

func interfaceNames(c *classfile.ParsedClass) []string {
	out := make([]string, len(c.InterfaceNames))
	for i, n := range c.InterfaceNames {
		out[i] = n.String()
	}
	return out
}

// fieldsDiff matches fields one to one regardless of declaration order. A
// field is identified by its name, type, modifiers and attributes.
func fieldsDiff(old, next *classfile.ParsedClass) string {
	counts := make(map[string]int, len(old.Fields))
	for _, f := range old.Fields {
		counts[fieldKey(f, old.Pool)]++
	}
	for _, f := range next.Fields {
		k := fieldKey(f, next.Pool)
		if counts[k] == 0 {
			if old.FindField(f.Name.String(), f.Type.String()) == nil {
				return fmt.Sprintf("field %s:%s added", f.Name, f.Type)
			}
			return fmt.Sprintf("field %s:%s changed", f.Name, f.Type)
		}
		counts[k]--
	}
	for _, f := range old.Fields {
		if counts[fieldKey(f, old.Pool)] > 0 {
			return fmt.Sprintf("field %s:%s removed", f.Name, f.Type)
		}
	}
	return ""
}

func fieldKey(f *classfile.ParsedField, pool *classfile.ConstantPool) string {
	attrs := make([]string, len(f.Attributes))
	for i, a := range f.Attributes {
		attrs[i] = a.Name
	}
	sort.Strings(attrs)
	value := ""
	if f.HasConstantValue() {
		value, _ = pool.CanonicalString(f.ConstantValueIndex)
	}
	return fmt.Sprintf("%s:%s:%#04x:%s:%s:%s", f.Name, f.Type, f.Flags, f.Signature, value, strings.Join(attrs, ","))
}

// signatureDiff compares the method attributes that cannot be patched.
// Type annotations are compared in their raw encoding.
func signatureDiff(old, next *classfile.ParsedMethod) string {
	switch {
	case !bytes.Equal(old.TypeAnnotations, next.TypeAnnotations):
		return "type annotations changed"
	case old.GenericSignature != next.GenericSignature:
		return fmt.Sprintf("generic signature changed from %q to %q", old.GenericSignature, next.GenericSignature)
	case !slices.Equal(old.Exceptions, next.Exceptions):
		return fmt.Sprintf("checked exceptions changed from %v to %v", old.Exceptions, next.Exceptions)
	}
	return ""
}

func bodyDiffers(a, b *classfile.Code) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.MaxStack != b.MaxStack ||
		a.MaxLocals != b.MaxLocals ||
		!bytes.Equal(a.Bytecode, b.Bytecode) ||
		!slices.Equal(a.ExceptionTable, b.ExceptionTable) ||
		!slices.Equal(a.LineNumbers, b.LineNumbers) ||
		!slices.Equal(a.LocalVariables, b.LocalVariables) ||
		!bytes.Equal(a.TypeAnnotations, b.TypeAnnotations)
}

// referencesChanged walks byte-identical bytecode and reports whether any
// constant it refers to means something else in the new pool. Bytecode
// that cannot be walked counts as changed.
func referencesChanged(code *classfile.Code, oldPool, newPool *classfile.ConstantPool) bool {
	changed := false
	err := classfile.Walk(code.Bytecode, func(in classfile.Instruction) error {
		if in.ReferencesPool() && !sameConstant(oldPool, newPool, in.PoolIndex) {
			changed = true
		}
		return nil
	})
	if err != nil {
		return true
	}
	for _, h := range code.ExceptionTable {
		if h.CatchType != 0 && !sameConstant(oldPool, newPool, h.CatchType) {
			return true
		}
	}
	return changed
}

func sameConstant(a, b *classfile.ConstantPool, i uint16) bool {
	x, err := a.CanonicalString(i)
	if err != nil {
		return false
	}
	y, err := b.CanonicalString(i)
	return err == nil && x == y
}
