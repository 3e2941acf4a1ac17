package symbol

import (
	"fmt"
	"strings"

	"github.com/klasslink/internal/kind"
)

// Well-known names.
const (
	ObjectName     = "java/lang/Object"
	ClassName      = "java/lang/Class"
	StringName     = "java/lang/String"
	ThreadName     = "java/lang/Thread"
	ThrowableName  = "java/lang/Throwable"
	ReferenceName  = "java/lang/ref/Reference"
	MethodName     = "java/lang/reflect/Method"
	FieldName      = "java/lang/reflect/Field"
	ConstructorNm  = "java/lang/reflect/Constructor"
	MemberNameName = "java/lang/invoke/MemberName"
	CloneableName  = "java/lang/Cloneable"
	SerializableNm = "java/io/Serializable"

	ObjectType = "Ljava/lang/Object;"

	Init   = "<init>"
	Clinit = "<clinit>"
)

// IsArray reports whether desc is an array type descriptor.
func IsArray(desc string) bool {
	return strings.HasPrefix(desc, "[")
}

// Dimensions returns the number of leading '[' in desc.
func Dimensions(desc string) int {
	n := 0
	for n < len(desc) && desc[n] == '[' {
		n++
	}
	return n
}

// IsPrimitive reports whether desc is a single-character primitive descriptor.
// "V" is included since void is pre-registered alongside the primitives.
func IsPrimitive(desc string) bool {
	if len(desc) != 1 {
		return false
	}
	k, ok := kind.FromChar(desc[0])
	return ok && k != kind.Object
}

// IsReference reports whether desc is an object or array descriptor.
func IsReference(desc string) bool {
	return (strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";")) || IsArray(desc)
}

// TypeFromName converts "java/lang/Object" to "Ljava/lang/Object;". Array
// class names are already descriptors and are returned unchanged.
func TypeFromName(name string) string {
	if IsArray(name) {
		return name
	}
	return "L" + name + ";"
}

// NameFromType converts "Ljava/lang/Object;" to "java/lang/Object". Array
// and primitive descriptors are returned unchanged.
func NameFromType(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// ComponentOf strips one array dimension.
func ComponentOf(desc string) string {
	if !IsArray(desc) {
		return ""
	}
	return desc[1:]
}

// ElementalOf strips all array dimensions.
func ElementalOf(desc string) string {
	return desc[Dimensions(desc):]
}

// ArrayOf prepends dims array dimensions.
func ArrayOf(desc string, dims int) string {
	return strings.Repeat("[", dims) + desc
}

// PackageOf returns the package part of an internal class name.
func PackageOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// ValidateFieldType checks that desc is exactly one well-formed field type.
func ValidateFieldType(desc string) error {
	n, err := fieldTypeLen(desc, 0)
	if err != nil {
		return err
	}
	if n != len(desc) {
		return fmt.Errorf("trailing characters in type descriptor %q", desc)
	}
	return nil
}

// ParseSignature splits a method descriptor into parameter and return type
// descriptors.
func ParseSignature(sig string) (params []string, ret string, err error) {
	if !strings.HasPrefix(sig, "(") {
		return nil, "", fmt.Errorf("malformed method descriptor %q", sig)
	}
	pos := 1
	for pos < len(sig) && sig[pos] != ')' {
		end, err := fieldTypeLen(sig, pos)
		if err != nil {
			return nil, "", fmt.Errorf("malformed method descriptor %q: %w", sig, err)
		}
		params = append(params, sig[pos:end])
		pos = end
	}
	if pos >= len(sig) {
		return nil, "", fmt.Errorf("malformed method descriptor %q: missing ')'", sig)
	}
	ret = sig[pos+1:]
	if ret != "V" {
		if err := ValidateFieldType(ret); err != nil {
			return nil, "", fmt.Errorf("malformed method descriptor %q: %w", sig, err)
		}
	}
	return params, ret, nil
}

// ParameterSlots returns the number of local slots occupied by the parameters
// of sig (long and double take two).
func ParameterSlots(sig string) (int, error) {
	params, _, err := ParseSignature(sig)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		if kind.FromDescriptor(p).IsWide() {
			n += 2
		} else {
			n++
		}
	}
	return n, nil
}

// fieldTypeLen returns the end offset of the field type starting at pos.
func fieldTypeLen(s string, pos int) (int, error) {
	start := pos
	for pos < len(s) && s[pos] == '[' {
		pos++
	}
	if pos-start > 255 {
		return 0, fmt.Errorf("array type %q exceeds 255 dimensions", s)
	}
	if pos >= len(s) {
		return 0, fmt.Errorf("truncated type descriptor %q", s)
	}
	switch s[pos] {
	case 'Z', 'B', 'C', 'S', 'I', 'F', 'J', 'D':
		return pos + 1, nil
	case 'L':
		end := strings.IndexByte(s[pos:], ';')
		if end <= 1 {
			return 0, fmt.Errorf("unterminated class type in %q", s)
		}
		return pos + end + 1, nil
	default:
		return 0, fmt.Errorf("invalid type character %q in %q", s[pos], s)
	}
}
