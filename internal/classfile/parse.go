package classfile

import (
	"fmt"

	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
)

// Parse decodes a class file. When expectedName is non-empty the class must
// declare exactly that name. All failures are INVALID_CLASS_FORMAT errors
// naming the class.
func Parse(data []byte, symbols *symbol.Table, expectedName string) (*ParsedClass, error) {
	label := expectedName
	if label == "" {
		label = "<unknown>"
	}
	p := &parser{r: newReader(data), symbols: symbols}
	class := p.parseClass()
	if p.r.err != nil {
		if class != nil && class.Name != nil {
			label = class.Name.String()
		}
		return nil, apperrors.InvalidClassFormat(label, "%v", p.r.err)
	}
	if expectedName != "" && class.Name.String() != expectedName {
		return nil, apperrors.InvalidClassFormat(expectedName, "wrong name: class file declares %s", class.Name)
	}
	class.Bytes = data
	return class, nil
}

type parser struct {
	r       *reader
	symbols *symbol.Table
	pool    *ConstantPool
}

func (p *parser) parseClass() *ParsedClass {
	r := p.r
	if magic := r.u4(); r.err == nil && magic != Magic {
		r.fail("bad magic %#x", magic)
	}
	c := &ParsedClass{}
	c.MinorVersion = r.u2()
	c.MajorVersion = r.u2()
	if r.err == nil && (c.MajorVersion < MinMajorVersion || c.MajorVersion > MaxMajorVersion) {
		r.fail("unsupported class file version %d.%d", c.MajorVersion, c.MinorVersion)
	}
	p.pool = parseConstantPool(r)
	if r.err != nil {
		return nil
	}
	c.Pool = p.pool

	c.Flags = r.u2()
	c.ThisClassIndex = r.u2()
	c.SuperClassIndex = r.u2()
	if r.err != nil {
		return nil
	}

	name := p.className(c.ThisClassIndex, "this_class")
	if r.err != nil {
		return nil
	}
	c.Name = p.symbols.Name(name)
	c.Type = p.symbols.Type(symbol.TypeFromName(name))

	if c.SuperClassIndex == 0 {
		if name != symbol.ObjectName {
			r.fail("class %s has no superclass", name)
		}
	} else {
		if name == symbol.ObjectName {
			r.fail("%s must not declare a superclass", name)
		}
		c.SuperName = p.symbols.Name(p.className(c.SuperClassIndex, "super_class"))
	}

	count := int(r.u2())
	for i := 0; i < count && r.err == nil; i++ {
		idx := r.u2()
		c.InterfaceIndices = append(c.InterfaceIndices, idx)
		c.InterfaceNames = append(c.InterfaceNames, p.symbols.Name(p.className(idx, "interface")))
	}

	count = int(r.u2())
	for i := 0; i < count && r.err == nil; i++ {
		c.Fields = append(c.Fields, p.parseField())
	}
	count = int(r.u2())
	for i := 0; i < count && r.err == nil; i++ {
		c.Methods = append(c.Methods, p.parseMethod(c.IsInterface()))
	}

	p.parseClassAttributes(c)
	if r.err == nil && r.remaining() != 0 {
		r.fail("%d trailing bytes after class attributes", r.remaining())
	}
	if r.err == nil {
		p.checkDuplicates(c)
	}
	return c
}

func (p *parser) className(idx uint16, what string) string {
	if p.r.err != nil {
		return ""
	}
	name, err := p.pool.ClassName(idx)
	if err != nil {
		p.r.fail("%s: %v", what, err)
		return ""
	}
	return name
}

func (p *parser) utf8(idx uint16, what string) string {
	if p.r.err != nil {
		return ""
	}
	s, err := p.pool.Utf8(idx)
	if err != nil {
		p.r.fail("%s: %v", what, err)
		return ""
	}
	return s
}

// optionalClassName resolves a Class entry where index 0 means "none".
func (p *parser) optionalClassName(idx uint16, what string) string {
	if idx == 0 {
		return ""
	}
	return p.className(idx, what)
}

func (p *parser) optionalUtf8(idx uint16, what string) string {
	if idx == 0 {
		return ""
	}
	return p.utf8(idx, what)
}

func (p *parser) rawAttributes() []Attribute {
	r := p.r
	count := int(r.u2())
	attrs := make([]Attribute, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		name := p.utf8(r.u2(), "attribute name")
		length := int(r.u4())
		data := r.bytes(length)
		if r.err != nil {
			break
		}
		attrs = append(attrs, Attribute{Name: name, Data: append([]byte(nil), data...)})
	}
	return attrs
}

func (p *parser) parseField() *ParsedField {
	r := p.r
	f := &ParsedField{}
	f.Flags = r.u2()
	f.NameIndex = r.u2()
	f.DescriptorIndex = r.u2()
	name := p.utf8(f.NameIndex, "field name")
	desc := p.utf8(f.DescriptorIndex, "field descriptor")
	if r.err == nil {
		if err := symbol.ValidateFieldType(desc); err != nil {
			r.fail("field %s: %v", name, err)
		}
	}
	f.Name = p.symbols.Name(name)
	f.Type = p.symbols.Type(desc)
	f.Kind = kind.FromDescriptor(desc)
	f.Attributes = p.rawAttributes()

	for _, a := range f.Attributes {
		sub := newReader(a.Data)
		switch a.Name {
		case AttrConstantValue:
			f.ConstantValueIndex = sub.u2()
			if sub.err == nil {
				p.checkConstantValue(f, name)
			}
		case AttrSignature:
			f.Signature = p.utf8(sub.u2(), "field signature")
		}
		if sub.err != nil {
			r.fail("field %s attribute %s: %v", name, a.Name, sub.err)
		}
	}
	return f
}

func (p *parser) checkConstantValue(f *ParsedField, name string) {
	var want Tag
	switch f.Kind {
	case kind.Long:
		want = TagLong
	case kind.Float:
		want = TagFloat
	case kind.Double:
		want = TagDouble
	case kind.Int, kind.Short, kind.Char, kind.Byte, kind.Boolean:
		want = TagInteger
	default:
		if f.Type.String() != symbol.TypeFromName(symbol.StringName) {
			p.r.fail("field %s: ConstantValue on non-constant type %s", name, f.Type)
			return
		}
		want = TagString
	}
	if got := p.pool.TagAt(f.ConstantValueIndex); got != want {
		p.r.fail("field %s: ConstantValue index %d is %s, want %s", name, f.ConstantValueIndex, got, want)
	}
}

func (p *parser) parseMethod(inInterface bool) *ParsedMethod {
	r := p.r
	m := &ParsedMethod{}
	m.Flags = r.u2()
	m.NameIndex = r.u2()
	m.DescriptorIndex = r.u2()
	name := p.utf8(m.NameIndex, "method name")
	desc := p.utf8(m.DescriptorIndex, "method descriptor")
	if r.err == nil {
		if _, _, err := symbol.ParseSignature(desc); err != nil {
			r.fail("method %s: %v", name, err)
		}
	}
	m.Name = p.symbols.Name(name)
	m.Descriptor = p.symbols.Signature(desc)
	m.Attributes = p.rawAttributes()

	for _, a := range m.Attributes {
		sub := newReader(a.Data)
		switch a.Name {
		case AttrCode:
			if m.Code != nil {
				r.fail("method %s%s: duplicate Code attribute", name, desc)
			}
			m.Code = p.parseCode(sub)
		case AttrExceptions:
			n := int(sub.u2())
			for i := 0; i < n && sub.err == nil; i++ {
				m.Exceptions = append(m.Exceptions, p.className(sub.u2(), "exception"))
			}
		case AttrSignature:
			m.GenericSignature = p.utf8(sub.u2(), "method signature")
		case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
			m.TypeAnnotations = append(m.TypeAnnotations, a.Data...)
		}
		if sub.err != nil {
			r.fail("method %s%s attribute %s: %v", name, desc, a.Name, sub.err)
		}
	}

	if r.err == nil {
		needsCode := m.Flags&(AccAbstract|AccNative) == 0
		if needsCode && m.Code == nil {
			r.fail("method %s%s has no Code attribute", name, desc)
		}
		if !needsCode && m.Code != nil {
			r.fail("abstract or native method %s%s has a Code attribute", name, desc)
		}
		if inInterface && name == symbol.Init {
			r.fail("interface declares a constructor")
		}
	}
	return m
}

func (p *parser) parseCode(r *reader) *Code {
	code := &Code{}
	code.MaxStack = r.u2()
	code.MaxLocals = r.u2()
	n := int(r.u4())
	if r.err == nil && (n == 0 || n > 65535) {
		r.fail("code length %d out of range", n)
	}
	code.Bytecode = append([]byte(nil), r.bytes(n)...)
	count := int(r.u2())
	for i := 0; i < count && r.err == nil; i++ {
		code.ExceptionTable = append(code.ExceptionTable, ExceptionHandler{
			StartPC:   r.u2(),
			EndPC:     r.u2(),
			HandlerPC: r.u2(),
			CatchType: r.u2(),
		})
	}

	// Code sub-attributes are read from the same reader.
	attrCount := int(r.u2())
	for i := 0; i < attrCount && r.err == nil; i++ {
		name := p.utf8(r.u2(), "code attribute name")
		data := append([]byte(nil), r.bytes(int(r.u4()))...)
		if r.err != nil {
			break
		}
		code.Attributes = append(code.Attributes, Attribute{Name: name, Data: data})
		sub := newReader(data)
		switch name {
		case AttrLineNumberTable:
			k := int(sub.u2())
			for j := 0; j < k && sub.err == nil; j++ {
				code.LineNumbers = append(code.LineNumbers, LineNumber{StartPC: sub.u2(), Line: sub.u2()})
			}
		case AttrLocalVariableTable:
			k := int(sub.u2())
			for j := 0; j < k && sub.err == nil; j++ {
				lv := LocalVariable{StartPC: sub.u2(), Length: sub.u2()}
				lv.Name = p.utf8(sub.u2(), "local variable name")
				lv.Descriptor = p.utf8(sub.u2(), "local variable descriptor")
				lv.Index = sub.u2()
				code.LocalVariables = append(code.LocalVariables, lv)
			}
		case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
			code.TypeAnnotations = append(code.TypeAnnotations, data...)
		}
		if sub.err != nil {
			r.fail("code attribute %s: %v", name, sub.err)
		}
	}
	if r.err == nil && r.remaining() != 0 {
		r.fail("%d trailing bytes in Code attribute", r.remaining())
	}
	if r.err == nil {
		if err := Walk(code.Bytecode, func(Instruction) error { return nil }); err != nil {
			r.fail("%v", err)
		}
	}
	if r.err != nil {
		p.r.fail("Code: %v", r.err)
	}
	return code
}

func (p *parser) parseClassAttributes(c *ParsedClass) {
	r := p.r
	c.Attributes = p.rawAttributes()
	for _, a := range c.Attributes {
		sub := newReader(a.Data)
		switch a.Name {
		case AttrSourceFile:
			c.SourceFile = p.utf8(sub.u2(), "source file")
		case AttrSignature:
			c.Signature = p.utf8(sub.u2(), "class signature")
		case AttrEnclosingMethod:
			em := &EnclosingMethod{ClassName: p.className(sub.u2(), "enclosing class")}
			if nat := sub.u2(); nat != 0 && sub.err == nil {
				name, desc, err := c.Pool.NameAndType(nat)
				if err != nil {
					r.fail("enclosing method: %v", err)
				}
				em.MethodName, em.MethodDescriptor = name, desc
			}
			c.EnclosingMethod = em
		case AttrInnerClasses:
			n := int(sub.u2())
			for i := 0; i < n && sub.err == nil; i++ {
				c.InnerClasses = append(c.InnerClasses, InnerClass{
					InnerClass: p.optionalClassName(sub.u2(), "inner class"),
					OuterClass: p.optionalClassName(sub.u2(), "outer class"),
					InnerName:  p.optionalUtf8(sub.u2(), "inner name"),
					Flags:      sub.u2(),
				})
			}
		}
		if sub.err != nil {
			r.fail("class attribute %s: %v", a.Name, sub.err)
		}
	}
}

func (p *parser) checkDuplicates(c *ParsedClass) {
	seen := make(map[string]struct{}, len(c.Fields)+len(c.Methods))
	for _, f := range c.Fields {
		key := "F" + f.Name.String() + ":" + f.Type.String()
		if _, dup := seen[key]; dup {
			p.r.fail("duplicate field %s %s", f.Name, f.Type)
			return
		}
		seen[key] = struct{}{}
	}
	for _, m := range c.Methods {
		key := "M" + m.Name.String() + m.Descriptor.String()
		if _, dup := seen[key]; dup {
			p.r.fail("duplicate method %s%s", m.Name, m.Descriptor)
			return
		}
		seen[key] = struct{}{}
	}
}

// String implements fmt.Stringer for diagnostics.
func (c *ParsedClass) String() string {
	return fmt.Sprintf("ParsedClass{%s, %d fields, %d methods}", c.Name, len(c.Fields), len(c.Methods))
}
