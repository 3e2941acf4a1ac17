package classfile

import (
	"encoding/binary"
	"fmt"
)

// Opcodes that reference the constant pool and matter to redefinition.
const (
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpGetStatic       = 0xb2
	OpPutStatic       = 0xb3
	OpGetField        = 0xb4
	OpPutField        = 0xb5
	OpInvokeVirtual   = 0xb6
	OpInvokeSpecial   = 0xb7
	OpInvokeStatic    = 0xb8
	OpInvokeInterface = 0xb9
	OpInvokeDynamic   = 0xba
	OpNew             = 0xbb
	OpAnewarray       = 0xbd
	OpCheckcast       = 0xc0
	OpInstanceof      = 0xc1
	OpMultianewarray  = 0xc5

	opTableSwitch  = 0xaa
	opLookupSwitch = 0xab
	opWide         = 0xc4
	opIinc         = 0x84
)

// opLength holds fixed instruction lengths; 0 marks variable or invalid.
var opLength = func() [256]uint8 {
	var t [256]uint8
	set := func(lo, hi int, n uint8) {
		for op := lo; op <= hi; op++ {
			t[op] = n
		}
	}
	set(0x00, 0x0f, 1)
	t[0x10] = 2 // bipush
	t[0x11] = 3 // sipush
	t[OpLdc] = 2
	t[OpLdcW] = 3
	t[OpLdc2W] = 3
	set(0x15, 0x19, 2) // xload
	set(0x1a, 0x35, 1)
	set(0x36, 0x3a, 2) // xstore
	set(0x3b, 0x83, 1)
	t[opIinc] = 3
	set(0x85, 0x98, 1)
	set(0x99, 0xa8, 3) // branches, goto, jsr
	t[0xa9] = 2        // ret
	set(0xac, 0xb1, 1) // returns
	set(OpGetStatic, OpInvokeStatic, 3)
	t[OpInvokeInterface] = 5
	t[OpInvokeDynamic] = 5
	t[OpNew] = 3
	t[0xbc] = 2 // newarray
	t[OpAnewarray] = 3
	t[0xbe] = 1
	t[0xbf] = 1
	t[OpCheckcast] = 3
	t[OpInstanceof] = 3
	t[0xc2] = 1
	t[0xc3] = 1
	t[OpMultianewarray] = 4
	t[0xc6] = 3
	t[0xc7] = 3
	t[0xc8] = 5 // goto_w
	t[0xc9] = 5 // jsr_w
	t[0xca] = 1 // breakpoint
	t[0xfe] = 1
	t[0xff] = 1
	return t
}()

// Instruction is one decoded instruction position.
type Instruction struct {
	PC     int
	Opcode uint8
	Length int
	// PoolIndex is the constant-pool operand, 0 if the instruction has none.
	PoolIndex uint16
}

// ReferencesPool reports whether the instruction is one whose meaning
// depends on a constant-pool entry: the ldc family, new, invokedynamic and
// the invoke instructions.
func (in Instruction) ReferencesPool() bool {
	switch in.Opcode {
	case OpLdc, OpLdcW, OpLdc2W, OpNew, OpInvokeDynamic,
		OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
		return true
	}
	return false
}

// InstructionLength returns the length of the instruction at pc.
func InstructionLength(code []byte, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, fmt.Errorf("pc %d out of range", pc)
	}
	op := code[pc]
	if n := opLength[op]; n != 0 {
		return int(n), nil
	}
	switch op {
	case opTableSwitch:
		base := pc + 1 + padding(pc)
		if base+12 > len(code) {
			return 0, fmt.Errorf("truncated tableswitch at pc %d", pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		if low > high {
			return 0, fmt.Errorf("tableswitch at pc %d has low %d > high %d", pc, low, high)
		}
		return base - pc + 12 + int(int64(high)-int64(low)+1)*4, nil
	case opLookupSwitch:
		base := pc + 1 + padding(pc)
		if base+8 > len(code) {
			return 0, fmt.Errorf("truncated lookupswitch at pc %d", pc)
		}
		npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if npairs < 0 {
			return 0, fmt.Errorf("lookupswitch at pc %d has negative npairs", pc)
		}
		return base - pc + 8 + int(npairs)*8, nil
	case opWide:
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("truncated wide at pc %d", pc)
		}
		if code[pc+1] == opIinc {
			return 6, nil
		}
		return 4, nil
	}
	return 0, fmt.Errorf("invalid opcode %#x at pc %d", op, pc)
}

// padding is the number of alignment bytes after a switch opcode at pc.
func padding(pc int) int {
	return (4 - (pc+1)%4) % 4
}

// Walk calls fn for every instruction in code, in order. It fails on invalid
// opcodes and on instructions that run past the end of the array.
func Walk(code []byte, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		n, err := InstructionLength(code, pc)
		if err != nil {
			return err
		}
		if pc+n > len(code) {
			return fmt.Errorf("instruction at pc %d overruns code of length %d", pc, len(code))
		}
		in := Instruction{PC: pc, Opcode: code[pc], Length: n}
		switch in.Opcode {
		case OpLdc:
			in.PoolIndex = uint16(code[pc+1])
		case OpLdcW, OpLdc2W, OpGetStatic, OpPutStatic, OpGetField, OpPutField,
			OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface,
			OpInvokeDynamic, OpNew, OpAnewarray, OpCheckcast, OpInstanceof, OpMultianewarray:
			in.PoolIndex = binary.BigEndian.Uint16(code[pc+1:])
		}
		if err := fn(in); err != nil {
			return err
		}
		pc += n
	}
	return nil
}
