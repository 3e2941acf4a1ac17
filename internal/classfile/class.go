// Package classfile parses class-file bytes into immutable parsed-class
// descriptors. Nothing here is resolved: super and interfaces are names,
// field and method types are descriptors.
package classfile

import (
	"sync/atomic"

	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/symbol"
)

// Attribute is an attribute kept in raw form.
type Attribute struct {
	Name string
	Data []byte
}

// EnclosingMethod is the decoded EnclosingMethod attribute. MethodName and
// MethodDescriptor are empty when the class is not enclosed by a method.
type EnclosingMethod struct {
	ClassName        string
	MethodName       string
	MethodDescriptor string
}

// InnerClass is one InnerClasses entry. Empty strings stand for index 0.
type InnerClass struct {
	InnerClass string
	OuterClass string
	InnerName  string
	Flags      uint16
}

// ParsedClass is the direct product of parsing one class file.
type ParsedClass struct {
	MinorVersion uint16
	MajorVersion uint16
	Flags        uint16
	Pool         *ConstantPool

	ThisClassIndex   uint16
	SuperClassIndex  uint16
	InterfaceIndices []uint16

	Name           *symbol.Name
	Type           *symbol.Type
	SuperName      *symbol.Name // nil only for java/lang/Object
	InterfaceNames []*symbol.Name

	Fields  []*ParsedField
	Methods []*ParsedMethod

	SourceFile      string
	Signature       string
	EnclosingMethod *EnclosingMethod
	InnerClasses    []InnerClass
	Attributes      []Attribute

	// Bytes is the class file this descriptor was parsed from.
	Bytes []byte
}

// IsInterface reports whether ACC_INTERFACE is set.
func (c *ParsedClass) IsInterface() bool { return c.Flags&AccInterface != 0 }

// IsAbstract reports whether ACC_ABSTRACT is set.
func (c *ParsedClass) IsAbstract() bool { return c.Flags&AccAbstract != 0 }

// IsFinal reports whether ACC_FINAL is set.
func (c *ParsedClass) IsFinal() bool { return c.Flags&AccFinal != 0 }

// Attribute returns the first class attribute with the given name.
func (c *ParsedClass) Attribute(name string) (Attribute, bool) {
	return findAttribute(c.Attributes, name)
}

// FindMethod returns the declared method with the given name and descriptor.
func (c *ParsedClass) FindMethod(name, descriptor string) *ParsedMethod {
	for _, m := range c.Methods {
		if m.Name.String() == name && m.Descriptor.String() == descriptor {
			return m
		}
	}
	return nil
}

// FindField returns the declared field with the given name and descriptor.
func (c *ParsedClass) FindField(name, descriptor string) *ParsedField {
	for _, f := range c.Fields {
		if f.Name.String() == name && f.Type.String() == descriptor {
			return f
		}
	}
	return nil
}

// ParsedField is one field_info.
type ParsedField struct {
	Flags           uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            *symbol.Name
	Type            *symbol.Type
	Kind            kind.Kind

	// ConstantValueIndex is the ConstantValue attribute payload, 0 if absent.
	ConstantValueIndex uint16
	Signature          string
	Attributes         []Attribute
}

// IsStatic reports whether ACC_STATIC is set.
func (f *ParsedField) IsStatic() bool { return f.Flags&AccStatic != 0 }

// IsFinal reports whether ACC_FINAL is set.
func (f *ParsedField) IsFinal() bool { return f.Flags&AccFinal != 0 }

// HasConstantValue reports whether the field carries a ConstantValue attribute.
func (f *ParsedField) HasConstantValue() bool { return f.ConstantValueIndex != 0 }

// ExceptionHandler is one exception_table entry.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// LineNumber is one LineNumberTable entry.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// LocalVariable is one LocalVariableTable entry.
type LocalVariable struct {
	StartPC    uint16
	Length     uint16
	Name       string
	Descriptor string
	Index      uint16
}

// Code is the decoded Code attribute.
type Code struct {
	MaxStack       uint16
	MaxLocals      uint16
	Bytecode       []byte
	ExceptionTable []ExceptionHandler
	LineNumbers    []LineNumber
	LocalVariables []LocalVariable
	// TypeAnnotations concatenates the raw type-annotation attributes of the
	// Code attribute.
	TypeAnnotations []byte
	Attributes      []Attribute
}

// ParsedMethod is one method_info.
type ParsedMethod struct {
	Flags           uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            *symbol.Name
	Descriptor      *symbol.Signature

	Code             *Code
	Exceptions       []string
	GenericSignature string
	// TypeAnnotations concatenates the raw RuntimeVisible and
	// RuntimeInvisible type-annotation attributes of the method.
	TypeAnnotations []byte
	Attributes      []Attribute

	changed atomic.Bool
}

// IsStatic reports whether ACC_STATIC is set.
func (m *ParsedMethod) IsStatic() bool { return m.Flags&AccStatic != 0 }

// IsPrivate reports whether ACC_PRIVATE is set.
func (m *ParsedMethod) IsPrivate() bool { return m.Flags&AccPrivate != 0 }

// IsAbstract reports whether ACC_ABSTRACT is set.
func (m *ParsedMethod) IsAbstract() bool { return m.Flags&AccAbstract != 0 }

// IsNative reports whether ACC_NATIVE is set.
func (m *ParsedMethod) IsNative() bool { return m.Flags&AccNative != 0 }

// IsConstructor reports whether this is an instance initializer.
func (m *ParsedMethod) IsConstructor() bool { return m.Name.String() == symbol.Init }

// IsClassInitializer reports whether this is <clinit>.
func (m *ParsedMethod) IsClassInitializer() bool { return m.Name.String() == symbol.Clinit }

// MarkChanged flips the body-changed marker. It reports true only for the
// call that performed the flip.
func (m *ParsedMethod) MarkChanged() bool {
	return m.changed.CompareAndSwap(false, true)
}

// BodyChanged reports whether MarkChanged has been called.
func (m *ParsedMethod) BodyChanged() bool {
	return m.changed.Load()
}

func findAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}
