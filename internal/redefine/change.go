// Package redefine decides whether new bytes for a loaded class can be
// patched into it and performs the patch. It classifies the difference
// between two versions of a class, keeps anonymous inner classes stable
// across recompilation, and swaps in the new version.
package redefine

import (
	"fmt"
	"strings"

	apperrors "github.com/klasslink/pkg/errors"
)

// ClassChange classifies the difference between two versions of a class.
// Values are ordered by severity.
type ClassChange int

const (
	NoChange ClassChange = iota
	// ConstantPoolChange means only the constant pool changed and no method
	// depends on the changed entries.
	ConstantPoolChange
	MethodBodyChange
	AddMethod
	DeleteMethod
	MethodModifiersChange
	SchemaChange
	ClassModifiersChange
	HierarchyChange
	// InvalidClassFormat is reported for bytes that could not be parsed or
	// that name a different class.
	InvalidClassFormat
)

var changeNames = [...]string{
	NoChange:              "no_change",
	ConstantPoolChange:    "constant_pool_change",
	MethodBodyChange:      "method_body_change",
	AddMethod:             "add_method",
	DeleteMethod:          "delete_method",
	MethodModifiersChange: "method_modifiers_change",
	SchemaChange:          "schema_change",
	ClassModifiersChange:  "class_modifiers_change",
	HierarchyChange:       "hierarchy_change",
	InvalidClassFormat:    "invalid_class_format",
}

func (c ClassChange) String() string {
	if c >= 0 && int(c) < len(changeNames) {
		return changeNames[c]
	}
	return fmt.Sprintf("ClassChange(%d)", int(c))
}

// Status is a redefinition result code. The values are part of the
// protocol spoken with debugger front ends and must not change.
type Status int

const (
	StatusSuccess                             Status = 0
	StatusInvalidClassFormat                  Status = 60
	StatusAddMethodNotImplemented             Status = 63
	StatusSchemaChangeNotImplemented          Status = 64
	StatusHierarchyChangeNotImplemented       Status = 66
	StatusDeleteMethodNotImplemented          Status = 67
	StatusClassModifiersChangeNotImplemented  Status = 70
	StatusMethodModifiersChangeNotImplemented Status = 71
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidClassFormat:
		return "INVALID_CLASS_FORMAT"
	case StatusAddMethodNotImplemented:
		return "ADD_METHOD_NOT_IMPLEMENTED"
	case StatusSchemaChangeNotImplemented:
		return "SCHEMA_CHANGE_NOT_IMPLEMENTED"
	case StatusHierarchyChangeNotImplemented:
		return "HIERARCHY_CHANGE_NOT_IMPLEMENTED"
	case StatusDeleteMethodNotImplemented:
		return "DELETE_METHOD_NOT_IMPLEMENTED"
	case StatusClassModifiersChangeNotImplemented:
		return "CLASS_MODIFIERS_CHANGE_NOT_IMPLEMENTED"
	case StatusMethodModifiersChangeNotImplemented:
		return "METHOD_MODIFIERS_CHANGE_NOT_IMPLEMENTED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Declined returns the status reported when change cannot be applied.
// Changes that are always patchable map to StatusSuccess.
func (c ClassChange) Declined() Status {
	switch c {
	case AddMethod:
		return StatusAddMethodNotImplemented
	case DeleteMethod:
		return StatusDeleteMethodNotImplemented
	case MethodModifiersChange:
		return StatusMethodModifiersChangeNotImplemented
	case SchemaChange:
		return StatusSchemaChangeNotImplemented
	case ClassModifiersChange:
		return StatusClassModifiersChangeNotImplemented
	case HierarchyChange:
		return StatusHierarchyChangeNotImplemented
	case InvalidClassFormat:
		return StatusInvalidClassFormat
	}
	return StatusSuccess
}

// Capability is the ceiling on what kind of change is applied.
type Capability int

const (
	CapabilityMethodBody Capability = iota
	CapabilityAddMethod
	CapabilityArbitrary
)

func (c Capability) String() string {
	switch c {
	case CapabilityMethodBody:
		return "method_body"
	case CapabilityAddMethod:
		return "add_method"
	case CapabilityArbitrary:
		return "arbitrary"
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// ParseCapability parses a capability name as used in configuration.
// The empty string selects CapabilityMethodBody.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "method_body":
		return CapabilityMethodBody, nil
	case "add_method":
		return CapabilityAddMethod, nil
	case "arbitrary":
		return CapabilityArbitrary, nil
	}
	return CapabilityMethodBody, apperrors.Newf(apperrors.CodeConfigError, "unknown redefinition capability: %s", s)
}

// Allows reports whether change may be applied under c. Hierarchy changes
// are never applied: a klass keeps the supertypes it was loaded with.
func (c Capability) Allows(change ClassChange) bool {
	switch change {
	case NoChange, ConstantPoolChange, MethodBodyChange:
		return true
	case AddMethod:
		return c >= CapabilityAddMethod
	case HierarchyChange, InvalidClassFormat:
		return false
	}
	return c >= CapabilityArbitrary
}

// Check returns the status for applying change under c.
func (c Capability) Check(change ClassChange) Status {
	if c.Allows(change) {
		return StatusSuccess
	}
	return change.Declined()
}
