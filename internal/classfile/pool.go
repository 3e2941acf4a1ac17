package classfile

import (
	"fmt"
	"math"
	"strconv"
)

// Constant is one decoded constant-pool entry. Which fields are meaningful
// depends on Tag:
//
//	Utf8                          Utf8
//	Integer, Float, Long, Double  Bits (raw IEEE bits for floating kinds)
//	Class, String, MethodType,
//	Module, Package               A (Utf8 index)
//	Fieldref, Methodref,
//	InterfaceMethodref            A (Class index), B (NameAndType index)
//	NameAndType                   A (name Utf8), B (descriptor Utf8)
//	MethodHandle                  RefKind, A (member ref index)
//	Dynamic, InvokeDynamic        A (bootstrap method index), B (NameAndType)
type Constant struct {
	Tag     Tag
	Utf8    string
	Bits    uint64
	A       uint16
	B       uint16
	RefKind uint8
}

// ConstantPool is the decoded constant pool. Index 0 is unused; the slot
// after a Long or Double holds a TagUnusable entry.
type ConstantPool struct {
	entries []Constant
}

// NewConstantPool wraps already-decoded entries. entries[0] is ignored.
func NewConstantPool(entries []Constant) *ConstantPool {
	return &ConstantPool{entries: entries}
}

// Len returns the constant_pool_count value (one more than the last index).
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

// Entry returns the entry at i.
func (p *ConstantPool) Entry(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) {
		return Constant{}, fmt.Errorf("constant pool index %d out of range [1, %d)", i, len(p.entries))
	}
	return p.entries[i], nil
}

// TagAt returns the tag at i, or TagUnusable when out of range.
func (p *ConstantPool) TagAt(i uint16) Tag {
	if i == 0 || int(i) >= len(p.entries) {
		return TagUnusable
	}
	return p.entries[i].Tag
}

func (p *ConstantPool) expect(i uint16, tags ...Tag) (Constant, error) {
	c, err := p.Entry(i)
	if err != nil {
		return c, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return c, fmt.Errorf("constant pool index %d: expected %v, found %s", i, tags, c.Tag)
}

// Utf8 returns the content of the Utf8 entry at i.
func (p *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Utf8, nil
}

// ClassName returns the internal name referenced by the Class entry at i.
func (p *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of the NameAndType entry at i.
func (p *ConstantPool) NameAndType(i uint16) (name, descriptor string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	if descriptor, err = p.Utf8(c.B); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// MemberRef returns the owner class, name and descriptor of a field, method
// or interface method reference.
func (p *ConstantPool) MemberRef(i uint16) (class, name, descriptor string, err error) {
	c, err := p.expect(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", err
	}
	if class, err = p.ClassName(c.A); err != nil {
		return "", "", "", err
	}
	name, descriptor, err = p.NameAndType(c.B)
	return class, name, descriptor, err
}

// StringValue returns the content of the String entry at i.
func (p *ConstantPool) StringValue(i uint16) (string, error) {
	c, err := p.expect(i, TagString)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// Int returns the value of an Integer entry.
func (p *ConstantPool) Int(i uint16) (int32, error) {
	c, err := p.expect(i, TagInteger)
	return int32(uint32(c.Bits)), err
}

// Long returns the value of a Long entry.
func (p *ConstantPool) Long(i uint16) (int64, error) {
	c, err := p.expect(i, TagLong)
	return int64(c.Bits), err
}

// Float returns the value of a Float entry.
func (p *ConstantPool) Float(i uint16) (float32, error) {
	c, err := p.expect(i, TagFloat)
	return math.Float32frombits(uint32(c.Bits)), err
}

// Double returns the value of a Double entry.
func (p *ConstantPool) Double(i uint16) (float64, error) {
	c, err := p.expect(i, TagDouble)
	return math.Float64frombits(c.Bits), err
}

// CanonicalString renders the entry at i as a string that is independent of
// pool layout: two entries in different pools denote the same constant iff
// their canonical strings are equal. Floating values use their raw bits so
// that NaN payloads and signed zeros compare exactly.
func (p *ConstantPool) CanonicalString(i uint16) (string, error) {
	c, err := p.Entry(i)
	if err != nil {
		return "", err
	}
	switch c.Tag {
	case TagUtf8:
		return c.Utf8, nil
	case TagInteger:
		return "I:" + strconv.FormatInt(int64(int32(uint32(c.Bits))), 10), nil
	case TagFloat:
		return "F:" + strconv.FormatUint(c.Bits&0xffffffff, 16), nil
	case TagLong:
		return "J:" + strconv.FormatInt(int64(c.Bits), 10), nil
	case TagDouble:
		return "D:" + strconv.FormatUint(c.Bits, 16), nil
	case TagClass:
		name, err := p.Utf8(c.A)
		return "Class:" + name, err
	case TagString:
		s, err := p.Utf8(c.A)
		return "String:" + s, err
	case TagMethodType:
		s, err := p.Utf8(c.A)
		return "MethodType:" + s, err
	case TagModule:
		s, err := p.Utf8(c.A)
		return "Module:" + s, err
	case TagPackage:
		s, err := p.Utf8(c.A)
		return "Package:" + s, err
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		class, name, desc, err := p.MemberRef(i)
		return c.Tag.String() + ":" + class + "." + name + ":" + desc, err
	case TagNameAndType:
		name, desc, err := p.NameAndType(i)
		return "NameAndType:" + name + ":" + desc, err
	case TagMethodHandle:
		ref, err := p.CanonicalString(c.A)
		return "MethodHandle:" + strconv.Itoa(int(c.RefKind)) + ":" + ref, err
	case TagDynamic, TagInvokeDynamic:
		name, desc, err := p.NameAndType(c.B)
		return c.Tag.String() + ":" + strconv.Itoa(int(c.A)) + ":" + name + ":" + desc, err
	default:
		return "", fmt.Errorf("constant pool index %d: no canonical form for %s", i, c.Tag)
	}
}

// Equal reports whether two pools have identical content.
func (p *ConstantPool) Equal(other *ConstantPool) bool {
	if len(p.entries) != len(other.entries) {
		return false
	}
	for i := range p.entries {
		if p.entries[i] != other.entries[i] {
			return false
		}
	}
	return true
}

func parseConstantPool(r *reader) *ConstantPool {
	count := int(r.u2())
	if r.err == nil && count == 0 {
		r.fail("constant pool count must be at least 1")
	}
	entries := make([]Constant, count)
	for i := 1; i < count && r.err == nil; i++ {
		tag := Tag(r.u1())
		c := Constant{Tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			c.Utf8 = string(r.bytes(n))
		case TagInteger, TagFloat:
			c.Bits = uint64(r.u4())
		case TagLong, TagDouble:
			c.Bits = r.u8()
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u2()
			c.B = r.u2()
		case TagMethodHandle:
			c.RefKind = r.u1()
			c.A = r.u2()
		default:
			r.fail("invalid constant pool tag %d at index %d", tag, i)
		}
		entries[i] = c
		if tag.IsWide() {
			if i+1 >= count {
				r.fail("wide constant at index %d overflows pool of %d", i, count)
			}
			i++
		}
	}
	if r.err != nil {
		return nil
	}
	pool := &ConstantPool{entries: entries}
	if err := pool.validate(); err != nil {
		r.fail("%v", err)
		return nil
	}
	return pool
}

// validate checks that every cross-reference points at an entry of the
// right kind.
func (p *ConstantPool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		idx := uint16(i)
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(c.A, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.A, TagClass); err == nil {
				_, err = p.expect(c.B, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(c.A, TagUtf8); err == nil {
				_, err = p.expect(c.B, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(c.B, TagNameAndType)
		case TagMethodHandle:
			switch c.RefKind {
			case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
				_, err = p.expect(c.A, TagFieldref)
			case RefInvokeVirtual, RefNewInvokeSpecial:
				_, err = p.expect(c.A, TagMethodref)
			case RefInvokeStatic, RefInvokeSpecial, RefInvokeInterface:
				_, err = p.expect(c.A, TagMethodref, TagInterfaceMethodref)
			default:
				err = fmt.Errorf("invalid method handle kind %d", c.RefKind)
			}
		}
		if err != nil {
			return fmt.Errorf("constant pool entry %d (%s): %w", idx, c.Tag, err)
		}
	}
	return nil
}
