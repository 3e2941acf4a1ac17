package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Access flags mirrored here so fixtures read naturally without importing
// the parser under test.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccNative    uint16 = 0x0100
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccSynthetic uint16 = 0x1000
)

// ClassBuilder assembles class-file bytes for tests. Pool entries are
// de-duplicated and allocated in call order, so an index returned by a pool
// method can be embedded in bytecode passed to a later Method call.
type ClassBuilder struct {
	major      uint16
	pool       bytes.Buffer
	poolCount  uint16
	poolIndex  map[string]uint16
	flags      uint16
	this       uint16
	super      uint16
	interfaces []uint16
	fields     [][]byte
	methods    [][]byte
	attrs      [][]byte
}

// MemberOption adds an attribute to a field or method.
type MemberOption func(b *ClassBuilder) []byte

// NewClass starts a class named name. An empty super produces a class with
// super_class 0, which only java/lang/Object may use.
func NewClass(name, super string, flags uint16) *ClassBuilder {
	b := &ClassBuilder{
		major:     52,
		poolCount: 1,
		poolIndex: make(map[string]uint16),
		flags:     flags,
	}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

// NewInterface starts an interface extending java/lang/Object.
func NewInterface(name string) *ClassBuilder {
	return NewClass(name, "java/lang/Object", AccPublic|AccInterface|AccAbstract)
}

// Version overrides the major version (default 52).
func (b *ClassBuilder) Version(major uint16) *ClassBuilder {
	b.major = major
	return b
}

func (b *ClassBuilder) entry(key string, tag byte, payload ...byte) uint16 {
	if idx, ok := b.poolIndex[key]; ok {
		return idx
	}
	idx := b.poolCount
	b.pool.WriteByte(tag)
	b.pool.Write(payload)
	b.poolCount++
	if tag == 5 || tag == 6 {
		b.poolCount++
	}
	b.poolIndex[key] = idx
	return idx
}

func u2(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func u4(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// Utf8 adds a Utf8 constant.
func (b *ClassBuilder) Utf8(s string) uint16 {
	return b.entry("U:"+s, 1, append(u2(uint16(len(s))), s...)...)
}

// Class adds a Class constant.
func (b *ClassBuilder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.entry("C:"+name, 7, u2(n)...)
}

// String adds a String constant.
func (b *ClassBuilder) String(s string) uint16 {
	n := b.Utf8(s)
	return b.entry("S:"+s, 8, u2(n)...)
}

// Integer adds an Integer constant.
func (b *ClassBuilder) Integer(v int32) uint16 {
	return b.entry("I:"+string(u4(uint32(v))), 3, u4(uint32(v))...)
}

// Float adds a Float constant.
func (b *ClassBuilder) Float(v float32) uint16 {
	bits := math.Float32bits(v)
	return b.entry("F:"+string(u4(bits)), 4, u4(bits)...)
}

// Long adds a Long constant (two pool slots).
func (b *ClassBuilder) Long(v int64) uint16 {
	payload := binary.BigEndian.AppendUint64(nil, uint64(v))
	return b.entry("J:"+string(payload), 5, payload...)
}

// Double adds a Double constant (two pool slots).
func (b *ClassBuilder) Double(v float64) uint16 {
	payload := binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
	return b.entry("D:"+string(payload), 6, payload...)
}

// NameAndType adds a NameAndType constant.
func (b *ClassBuilder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.entry("NT:"+name+":"+desc, 12, append(u2(n), u2(d)...)...)
}

func (b *ClassBuilder) ref(tag byte, class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.entry("R"+string(rune('0'+tag))+":"+class+"."+name+":"+desc, tag, append(u2(c), u2(nt)...)...)
}

// Fieldref adds a Fieldref constant.
func (b *ClassBuilder) Fieldref(class, name, desc string) uint16 {
	return b.ref(9, class, name, desc)
}

// Methodref adds a Methodref constant.
func (b *ClassBuilder) Methodref(class, name, desc string) uint16 {
	return b.ref(10, class, name, desc)
}

// InterfaceMethodref adds an InterfaceMethodref constant.
func (b *ClassBuilder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.ref(11, class, name, desc)
}

// MethodType adds a MethodType constant.
func (b *ClassBuilder) MethodType(desc string) uint16 {
	d := b.Utf8(desc)
	return b.entry("MT:"+desc, 16, u2(d)...)
}

// MethodHandle adds a MethodHandle constant.
func (b *ClassBuilder) MethodHandle(refKind uint8, ref uint16) uint16 {
	payload := append([]byte{refKind}, u2(ref)...)
	return b.entry("MH:"+string(payload), 15, payload...)
}

// InvokeDynamic adds an InvokeDynamic constant.
func (b *ClassBuilder) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	payload := append(u2(bootstrap), u2(nt)...)
	return b.entry("ID:"+string(payload), 18, payload...)
}

// Interfaces adds implemented interfaces.
func (b *ClassBuilder) Interfaces(names ...string) *ClassBuilder {
	for _, n := range names {
		b.interfaces = append(b.interfaces, b.Class(n))
	}
	return b
}

func (b *ClassBuilder) attribute(name string, data []byte) []byte {
	out := u2(b.Utf8(name))
	out = append(out, u4(uint32(len(data)))...)
	return append(out, data...)
}

func (b *ClassBuilder) member(flags uint16, name, desc string, attrs [][]byte) []byte {
	out := u2(flags)
	out = append(out, u2(b.Utf8(name))...)
	out = append(out, u2(b.Utf8(desc))...)
	out = append(out, u2(uint16(len(attrs)))...)
	for _, a := range attrs {
		out = append(out, a...)
	}
	return out
}

// Field declares a field.
func (b *ClassBuilder) Field(flags uint16, name, desc string, opts ...MemberOption) *ClassBuilder {
	attrs := make([][]byte, 0, len(opts))
	for _, opt := range opts {
		attrs = append(attrs, opt(b))
	}
	b.fields = append(b.fields, b.member(flags, name, desc, attrs))
	return b
}

// Method declares a method. Concrete methods without a WithCode option get a
// single "return" instruction.
func (b *ClassBuilder) Method(flags uint16, name, desc string, opts ...MemberOption) *ClassBuilder {
	attrs := make([][]byte, 0, len(opts)+1)
	hasCode := false
	for _, opt := range opts {
		a := opt(b)
		if idx, ok := b.poolIndex["U:Code"]; ok && binary.BigEndian.Uint16(a) == idx {
			hasCode = true
		}
		attrs = append(attrs, a)
	}
	if !hasCode && flags&(AccAbstract|AccNative) == 0 {
		attrs = append(attrs, WithCode(1, 8, []byte{0xb1})(b))
	}
	b.methods = append(b.methods, b.member(flags, name, desc, attrs))
	return b
}

// CodeOption adds a sub-attribute to a Code attribute.
type CodeOption func(b *ClassBuilder) []byte

// WithCode attaches a Code attribute.
func WithCode(maxStack, maxLocals uint16, code []byte, opts ...CodeOption) MemberOption {
	return WithHandlers(maxStack, maxLocals, code, nil, opts...)
}

// Handler is one exception_table entry.
type Handler struct {
	StartPC, EndPC, HandlerPC, CatchType uint16
}

// WithHandlers attaches a Code attribute with an exception table.
func WithHandlers(maxStack, maxLocals uint16, code []byte, handlers []Handler, opts ...CodeOption) MemberOption {
	return func(b *ClassBuilder) []byte {
		data := append(u2(maxStack), u2(maxLocals)...)
		data = append(data, u4(uint32(len(code)))...)
		data = append(data, code...)
		data = append(data, u2(uint16(len(handlers)))...)
		for _, h := range handlers {
			data = append(data, u2(h.StartPC)...)
			data = append(data, u2(h.EndPC)...)
			data = append(data, u2(h.HandlerPC)...)
			data = append(data, u2(h.CatchType)...)
		}
		data = append(data, u2(uint16(len(opts)))...)
		for _, opt := range opts {
			data = append(data, opt(b)...)
		}
		return b.attribute("Code", data)
	}
}

// WithLineNumbers adds a LineNumberTable; pairs alternate start_pc, line.
func WithLineNumbers(pairs ...uint16) CodeOption {
	return func(b *ClassBuilder) []byte {
		data := u2(uint16(len(pairs) / 2))
		for _, v := range pairs {
			data = append(data, u2(v)...)
		}
		return b.attribute("LineNumberTable", data)
	}
}

// WithLocalVariable adds a single-entry LocalVariableTable.
func WithLocalVariable(startPC, length uint16, name, desc string, index uint16) CodeOption {
	return func(b *ClassBuilder) []byte {
		data := u2(1)
		data = append(data, u2(startPC)...)
		data = append(data, u2(length)...)
		data = append(data, u2(b.Utf8(name))...)
		data = append(data, u2(b.Utf8(desc))...)
		data = append(data, u2(index)...)
		return b.attribute("LocalVariableTable", data)
	}
}

// WithConstantValue attaches a ConstantValue attribute pointing at idx.
func WithConstantValue(idx uint16) MemberOption {
	return func(b *ClassBuilder) []byte {
		return b.attribute("ConstantValue", u2(idx))
	}
}

// WithSignature attaches a generic Signature attribute.
func WithSignature(sig string) MemberOption {
	return func(b *ClassBuilder) []byte {
		return b.attribute("Signature", u2(b.Utf8(sig)))
	}
}

// WithExceptions attaches an Exceptions attribute.
func WithExceptions(classes ...string) MemberOption {
	return func(b *ClassBuilder) []byte {
		data := u2(uint16(len(classes)))
		for _, c := range classes {
			data = append(data, u2(b.Class(c))...)
		}
		return b.attribute("Exceptions", data)
	}
}

// WithTypeAnnotations attaches a raw RuntimeVisibleTypeAnnotations attribute.
func WithTypeAnnotations(raw []byte) MemberOption {
	return func(b *ClassBuilder) []byte {
		return b.attribute("RuntimeVisibleTypeAnnotations", raw)
	}
}

// SourceFile adds a SourceFile attribute.
func (b *ClassBuilder) SourceFile(name string) *ClassBuilder {
	b.attrs = append(b.attrs, b.attribute("SourceFile", u2(b.Utf8(name))))
	return b
}

// EnclosingMethod adds an EnclosingMethod attribute. Empty name means the
// class is not enclosed by a method.
func (b *ClassBuilder) EnclosingMethod(class, name, desc string) *ClassBuilder {
	data := u2(b.Class(class))
	if name == "" {
		data = append(data, u2(0)...)
	} else {
		data = append(data, u2(b.NameAndType(name, desc))...)
	}
	b.attrs = append(b.attrs, b.attribute("EnclosingMethod", data))
	return b
}

// InnerClassEntry is one row of an InnerClasses attribute.
type InnerClassEntry struct {
	Inner, Outer, Name string
	Flags              uint16
}

// InnerClasses adds an InnerClasses attribute.
func (b *ClassBuilder) InnerClasses(entries ...InnerClassEntry) *ClassBuilder {
	data := u2(uint16(len(entries)))
	for _, e := range entries {
		var inner, outer, name uint16
		if e.Inner != "" {
			inner = b.Class(e.Inner)
		}
		if e.Outer != "" {
			outer = b.Class(e.Outer)
		}
		if e.Name != "" {
			name = b.Utf8(e.Name)
		}
		data = append(data, u2(inner)...)
		data = append(data, u2(outer)...)
		data = append(data, u2(name)...)
		data = append(data, u2(e.Flags)...)
	}
	b.attrs = append(b.attrs, b.attribute("InnerClasses", data))
	return b
}

// Build serializes the class file.
func (b *ClassBuilder) Build() []byte {
	var out bytes.Buffer
	out.Write(u4(0xCAFEBABE))
	out.Write(u2(0))
	out.Write(u2(b.major))
	out.Write(u2(b.poolCount))
	out.Write(b.pool.Bytes())
	out.Write(u2(b.flags))
	out.Write(u2(b.this))
	out.Write(u2(b.super))
	out.Write(u2(uint16(len(b.interfaces))))
	for _, i := range b.interfaces {
		out.Write(u2(i))
	}
	out.Write(u2(uint16(len(b.fields))))
	for _, f := range b.fields {
		out.Write(f)
	}
	out.Write(u2(uint16(len(b.methods))))
	for _, m := range b.methods {
		out.Write(m)
	}
	out.Write(u2(uint16(len(b.attrs))))
	for _, a := range b.attrs {
		out.Write(a)
	}
	return out.Bytes()
}
