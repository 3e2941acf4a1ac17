// Package kind describes the storage kinds of guest values: the eight
// primitive kinds plus object references.
package kind

// Kind identifies how a value of a given type is stored.
type Kind uint8

const (
	// Void is only valid as a method return kind.
	Void Kind = iota
	Boolean
	Byte
	Char
	Short
	Int
	Float
	Long
	Double
	Object
)

// Primitives lists the primitive kinds ordered largest-first by byte size.
// The field layout engine allocates kind groups in exactly this order.
var Primitives = [...]Kind{Long, Double, Int, Float, Short, Char, Byte, Boolean}

// NumPrimitives is the number of primitive storage kinds.
const NumPrimitives = len(Primitives)

// Size returns the storage size in bytes. Object references have no byte
// size because they live in a separate slot space.
func (k Kind) Size() int {
	switch k {
	case Long, Double:
		return 8
	case Int, Float:
		return 4
	case Short, Char:
		return 2
	case Byte, Boolean:
		return 1
	default:
		return 0
	}
}

// IsPrimitive reports whether k is one of the eight primitive kinds.
func (k Kind) IsPrimitive() bool {
	return k >= Boolean && k <= Double
}

// IsWide reports whether k occupies two constant pool / local slots.
func (k Kind) IsWide() bool {
	return k == Long || k == Double
}

// Order returns the position of a primitive kind in Primitives, or -1.
func (k Kind) Order() int {
	for i, p := range Primitives {
		if p == k {
			return i
		}
	}
	return -1
}

// Char returns the descriptor character for the kind.
func (k Kind) Char() byte {
	switch k {
	case Void:
		return 'V'
	case Boolean:
		return 'Z'
	case Byte:
		return 'B'
	case Char:
		return 'C'
	case Short:
		return 'S'
	case Int:
		return 'I'
	case Float:
		return 'F'
	case Long:
		return 'J'
	case Double:
		return 'D'
	default:
		return 'L'
	}
}

// String returns the guest-language name of the kind.
func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Boolean:
		return "boolean"
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Long:
		return "long"
	case Double:
		return "double"
	default:
		return "object"
	}
}

// FromChar maps a descriptor character to a kind. Both 'L' and '[' map to
// Object. The second result is false for characters that start no type.
func FromChar(c byte) (Kind, bool) {
	switch c {
	case 'V':
		return Void, true
	case 'Z':
		return Boolean, true
	case 'B':
		return Byte, true
	case 'C':
		return Char, true
	case 'S':
		return Short, true
	case 'I':
		return Int, true
	case 'F':
		return Float, true
	case 'J':
		return Long, true
	case 'D':
		return Double, true
	case 'L', '[':
		return Object, true
	default:
		return Object, false
	}
}

// FromDescriptor returns the kind of a field type descriptor such as "I",
// "Ljava/lang/String;" or "[J".
func FromDescriptor(desc string) Kind {
	if desc == "" {
		return Object
	}
	k, _ := FromChar(desc[0])
	return k
}
