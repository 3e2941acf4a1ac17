// Package linker turns a ParsedClass into a LinkedKlass: the structural
// shape of a class with its superclass and interfaces attached and its
// fields laid out. A LinkedKlass carries no runtime state and may be shared
// by several versions of the same runtime class.
package linker

import (
	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/layout"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
)

// LinkedField is a parsed field with its computed slot and index. Hidden
// fields have no parsed counterpart.
type LinkedField struct {
	layout.Field
	Parsed *classfile.ParsedField
}

// IsStatic reports whether the field is static.
func (f *LinkedField) IsStatic() bool { return f.Static }

// Flags returns the access flags; hidden fields are private and final.
func (f *LinkedField) Flags() uint16 {
	if f.Parsed == nil {
		return classfile.AccPrivate | classfile.AccFinal | classfile.AccSynthetic
	}
	return f.Parsed.Flags
}

// LinkedMethod is a parsed method with its argument slot count.
type LinkedMethod struct {
	Parsed   *classfile.ParsedMethod
	ArgSlots int
}

// LinkedKlass is the linked shape of one class.
type LinkedKlass struct {
	Parsed     *classfile.ParsedClass
	Super      *LinkedKlass
	Interfaces []*LinkedKlass
	Layout     *layout.Result

	// InstanceFields and StaticFields hold this class's own fields, hidden
	// ones last.
	InstanceFields []*LinkedField
	StaticFields   []*LinkedField
	Methods        []*LinkedMethod
}

// Name returns the class name.
func (lk *LinkedKlass) Name() *symbol.Name { return lk.Parsed.Name }

// Flags returns the class access flags.
func (lk *LinkedKlass) Flags() uint16 { return lk.Parsed.Flags }

// IsInterface reports whether the class is an interface.
func (lk *LinkedKlass) IsInterface() bool { return lk.Parsed.IsInterface() }

// FieldTableLength is the number of instance fields including inherited ones.
func (lk *LinkedKlass) FieldTableLength() int { return lk.Layout.InstanceFieldCount }

// Link validates the structural relationships of parsed and computes its
// field layout. super must be the linked superclass (nil only for
// java/lang/Object) and interfaces the linked direct superinterfaces in
// declaration order.
func Link(parsed *classfile.ParsedClass, super *LinkedKlass, interfaces []*LinkedKlass) (*LinkedKlass, error) {
	name := parsed.Name.String()
	if err := checkSuper(parsed, super); err != nil {
		return nil, err
	}
	if len(interfaces) != len(parsed.InterfaceNames) {
		return nil, apperrors.Newf(apperrors.CodeInternal, "%s: %d interfaces linked, %d declared", name, len(interfaces), len(parsed.InterfaceNames))
	}
	for i, iface := range interfaces {
		if iface.Name().String() != parsed.InterfaceNames[i].String() {
			return nil, apperrors.Newf(apperrors.CodeInternal, "%s: interface %d is %s, declared %s", name, i, iface.Name(), parsed.InterfaceNames[i])
		}
		if !iface.IsInterface() {
			return nil, incompatible(name, "class %s is not an interface", iface.Name())
		}
	}

	lk := &LinkedKlass{Parsed: parsed, Super: super, Interfaces: interfaces}

	declared := make([]layout.FieldSpec, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		declared = append(declared, layout.FieldSpec{
			Name:   f.Name.String(),
			Type:   f.Type.String(),
			Kind:   f.Kind,
			Static: f.IsStatic(),
		})
	}
	var superLayout *layout.Result
	if super != nil {
		superLayout = super.Layout
	}
	lk.Layout = layout.Compute(superLayout, declared, layout.HiddenFields(name))

	parsedByName := make(map[string]*classfile.ParsedField, len(parsed.Fields))
	for _, f := range parsed.Fields {
		parsedByName[f.Name.String()+":"+f.Type.String()] = f
	}
	wrap := func(fields []layout.Field) []*LinkedField {
		out := make([]*LinkedField, len(fields))
		for i, f := range fields {
			lf := &LinkedField{Field: f}
			if !f.Hidden {
				lf.Parsed = parsedByName[f.Name+":"+f.Type]
			}
			out[i] = lf
		}
		return out
	}
	lk.InstanceFields = wrap(lk.Layout.InstanceFields)
	lk.StaticFields = wrap(lk.Layout.StaticFields)

	lk.Methods = make([]*LinkedMethod, len(parsed.Methods))
	for i, m := range parsed.Methods {
		slots, err := symbol.ParameterSlots(m.Descriptor.String())
		if err != nil {
			return nil, apperrors.InvalidClassFormat(name, "method %s: %v", m.Name, err)
		}
		if !m.IsStatic() {
			slots++
		}
		lk.Methods[i] = &LinkedMethod{Parsed: m, ArgSlots: slots}
	}
	return lk, nil
}

func checkSuper(parsed *classfile.ParsedClass, super *LinkedKlass) error {
	name := parsed.Name.String()
	if parsed.SuperName == nil {
		if super != nil {
			return apperrors.Newf(apperrors.CodeInternal, "%s declares no superclass but one was supplied", name)
		}
		return nil
	}
	if super == nil {
		return apperrors.Newf(apperrors.CodeInternal, "%s: superclass %s was not supplied", name, parsed.SuperName)
	}
	if super.Name().String() != parsed.SuperName.String() {
		return apperrors.Newf(apperrors.CodeInternal, "%s: superclass is %s, declared %s", name, super.Name(), parsed.SuperName)
	}
	if super.IsInterface() {
		return incompatible(name, "class %s has interface %s as super class", name, super.Name())
	}
	if super.Parsed.IsFinal() {
		return incompatible(name, "cannot inherit from final class %s", super.Name())
	}
	if parsed.IsInterface() && super.Name().String() != symbol.ObjectName {
		return incompatible(name, "interface must extend %s", symbol.ObjectName)
	}
	return nil
}

func incompatible(name, format string, args ...interface{}) error {
	return apperrors.IncompatibleClassChange(name, format, args...)
}

// ConstantKind returns the storage kind a ConstantValue attribute must have
// for a field of kind k. Sub-int kinds are stored from Integer constants.
func ConstantKind(k kind.Kind) kind.Kind {
	switch k {
	case kind.Boolean, kind.Byte, kind.Char, kind.Short:
		return kind.Int
	}
	return k
}
