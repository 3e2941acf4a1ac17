package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RewriteUtf8 returns a copy of a class file in which every Utf8 constant is
// passed through fn. When fn reports a change the entry is re-encoded with a
// new length prefix; the rest of the file is position independent and is
// copied unchanged. The second result counts rewritten entries.
func RewriteUtf8(data []byte, fn func(index int, value string) (string, bool)) ([]byte, int, error) {
	r := newReader(data)
	if magic := r.u4(); r.err == nil && magic != Magic {
		return nil, 0, fmt.Errorf("bad magic %#x", magic)
	}
	r.u2()
	r.u2()
	count := int(r.u2())
	if r.err != nil {
		return nil, 0, r.err
	}

	out := bytes.NewBuffer(make([]byte, 0, len(data)+64))
	out.Write(data[:r.pos])

	patched := 0
	for i := 1; i < count; i++ {
		start := r.pos
		tag := Tag(r.u1())
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			value := string(r.bytes(n))
			if r.err != nil {
				return nil, 0, r.err
			}
			if replaced, ok := fn(i, value); ok && replaced != value {
				if len(replaced) > 0xffff {
					return nil, 0, fmt.Errorf("constant %d: rewritten Utf8 of %d bytes exceeds 65535", i, len(replaced))
				}
				var hdr [3]byte
				hdr[0] = byte(TagUtf8)
				binary.BigEndian.PutUint16(hdr[1:], uint16(len(replaced)))
				out.Write(hdr[:])
				out.WriteString(replaced)
				patched++
				continue
			}
		case TagInteger, TagFloat:
			r.u4()
		case TagLong, TagDouble:
			r.u8()
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			r.u4()
		case TagMethodHandle:
			r.u1()
			r.u2()
		default:
			r.fail("invalid constant pool tag %d at index %d", tag, i)
		}
		if r.err != nil {
			return nil, 0, r.err
		}
		out.Write(data[start:r.pos])
	}
	out.Write(data[r.pos:])
	return out.Bytes(), patched, nil
}
