// Package model defines the reports printed and serialized by the klasslink
// tools.
package model

import "time"

// ReportType identifies the kind of a report.
type ReportType string

const (
	ReportTypeLayout       ReportType = "layout"
	ReportTypeDispatch     ReportType = "dispatch"
	ReportTypeDiff         ReportType = "diff"
	ReportTypeRedefinition ReportType = "redefinition"
)

// Report is implemented by every report.
type Report interface {
	Type() ReportType
}

// ClassReport describes one linked class: its identity, field layout and
// dispatch tables. Layout or dispatch may be omitted.
type ClassReport struct {
	Name       string    `json:"name"`
	Loader     string    `json:"loader"`
	Super      string    `json:"super,omitempty"`
	Interfaces []string  `json:"interfaces,omitempty"`
	Interface  bool      `json:"interface,omitempty"`
	Version    int       `json:"version"`
	State      string    `json:"state"`
	Layout     *Layout   `json:"layout,omitempty"`
	Dispatch   *Dispatch `json:"dispatch,omitempty"`
}

// Type implements Report.
func (r *ClassReport) Type() ReportType {
	if r.Dispatch != nil && r.Layout == nil {
		return ReportTypeDispatch
	}
	return ReportTypeLayout
}

// Layout is the storage assignment of a class's fields.
type Layout struct {
	// FieldTableLength counts instance fields including inherited ones.
	FieldTableLength int           `json:"field_table_length"`
	InstanceBytes    int           `json:"instance_bytes"`
	InstanceObjects  int           `json:"instance_objects"`
	StaticBytes      int           `json:"static_bytes"`
	StaticObjects    int           `json:"static_objects"`
	InstanceFields   []FieldReport `json:"instance_fields"`
	StaticFields     []FieldReport `json:"static_fields"`
	InstanceHoles    []Range       `json:"instance_holes,omitempty"`
	StaticHoles      []Range       `json:"static_holes,omitempty"`
}

// FieldReport is one placed field.
type FieldReport struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Slot   int    `json:"slot"`
	Index  int    `json:"index"`
	Size   int    `json:"size"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Range is a byte range [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Dispatch holds the virtual and interface tables of a class.
type Dispatch struct {
	VTable []MethodEntry    `json:"vtable"`
	ITable []InterfaceTable `json:"itable,omitempty"`
}

// InterfaceTable is the itable row of one interface.
type InterfaceTable struct {
	Interface string        `json:"interface"`
	Methods   []MethodEntry `json:"methods"`
}

// MethodEntry is one dispatch table slot.
type MethodEntry struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Holder    string `json:"holder"`
	Abstract  bool   `json:"abstract,omitempty"`
	Default   bool   `json:"default,omitempty"`
	Miranda   bool   `json:"miranda,omitempty"`
	Proxy     bool   `json:"proxy,omitempty"`
}

// DiffReport classifies the difference between two versions of a class.
type DiffReport struct {
	Class      string         `json:"class"`
	Change     string         `json:"change"`
	Reason     string         `json:"reason,omitempty"`
	Capability string         `json:"capability"`
	Status     int            `json:"status"`
	StatusName string         `json:"status_name"`
	Methods    []MethodChange `json:"methods,omitempty"`
}

// Type implements Report.
func (r *DiffReport) Type() ReportType { return ReportTypeDiff }

// Accepted reports whether the capability allows the change.
func (r *DiffReport) Accepted() bool { return r.Status == 0 }

// MethodChange is the classification of one method.
type MethodChange struct {
	Method   string `json:"method"`
	Change   string `json:"change"`
	Obsolete bool   `json:"obsolete,omitempty"`
}

// RedefinitionReport is one recorded redefinition attempt.
type RedefinitionReport struct {
	Class      string    `json:"class"`
	Loader     string    `json:"loader"`
	Change     string    `json:"change"`
	Status     int       `json:"status"`
	StatusName string    `json:"status_name"`
	Version    int       `json:"version"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Type implements Report.
func (r *RedefinitionReport) Type() ReportType { return ReportTypeRedefinition }
