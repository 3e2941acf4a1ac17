package formatter

import (
	"github.com/klasslink/internal/layout"
	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/pkg/model"
)

// ClassReport describes k. withLayout and withDispatch select the sections
// to fill in.
func ClassReport(k *runtime.ObjectKlass, withLayout, withDispatch bool) *model.ClassReport {
	r := &model.ClassReport{
		Name:      k.Name().String(),
		Loader:    runtime.LoaderName(k.Loader()),
		Interface: k.IsInterface(),
		Version:   k.VersionNumber(),
		State:     k.State().String(),
	}
	if super := k.Superclass(); super != nil {
		r.Super = super.Name().String()
	}
	for _, iface := range k.Interfaces() {
		r.Interfaces = append(r.Interfaces, iface.Name().String())
	}
	if withLayout {
		r.Layout = layoutReport(k.Linked().Layout)
	}
	if withDispatch {
		r.Dispatch = dispatchReport(k)
	}
	return r
}

func layoutReport(l *layout.Result) *model.Layout {
	return &model.Layout{
		FieldTableLength: l.InstanceFieldCount,
		InstanceBytes:    l.InstanceBytes,
		InstanceObjects:  l.InstanceObjects,
		StaticBytes:      l.StaticBytes,
		StaticObjects:    l.StaticObjects,
		InstanceFields:   fieldReports(l.InstanceFields),
		StaticFields:     fieldReports(l.StaticFields),
		InstanceHoles:    ranges(l.InstanceHoles),
		StaticHoles:      ranges(l.StaticHoles),
	}
}

func fieldReports(fields []layout.Field) []model.FieldReport {
	out := make([]model.FieldReport, len(fields))
	for i, f := range fields {
		out[i] = model.FieldReport{
			Name:   f.Name,
			Type:   f.Type,
			Kind:   f.Kind.String(),
			Slot:   f.Slot,
			Index:  f.Index,
			Size:   f.Kind.Size(),
			Hidden: f.Hidden,
		}
	}
	return out
}

func ranges(holes []layout.Hole) []model.Range {
	if len(holes) == 0 {
		return nil
	}
	out := make([]model.Range, len(holes))
	for i, h := range holes {
		out[i] = model.Range{Start: h.Start, End: h.End}
	}
	return out
}

func dispatchReport(k *runtime.ObjectKlass) *model.Dispatch {
	d := &model.Dispatch{VTable: methodEntries(k.VTable())}
	ifaces := k.IKlassTable()
	for i, methods := range k.ITable() {
		d.ITable = append(d.ITable, model.InterfaceTable{
			Interface: ifaces[i].Name().String(),
			Methods:   methodEntries(methods),
		})
	}
	return d
}

func methodEntries(methods []*runtime.Method) []model.MethodEntry {
	out := make([]model.MethodEntry, len(methods))
	for i, m := range methods {
		out[i] = model.MethodEntry{
			Index:     i,
			Name:      m.Name().String(),
			Signature: m.Signature().String(),
			Holder:    m.Holder().Name().String(),
			Abstract:  m.IsAbstract(),
			Default:   m.IsDefault(),
			Miranda:   m.IsMiranda(),
			Proxy:     m.IsProxy(),
		}
	}
	return out
}

// DiffReport describes d as judged under capability c.
func DiffReport(d *redefine.Diff, c redefine.Capability) *model.DiffReport {
	status := c.Check(d.Change)
	r := &model.DiffReport{
		Class:      d.Class,
		Change:     d.Change.String(),
		Reason:     d.Reason,
		Capability: c.String(),
		Status:     int(status),
		StatusName: status.String(),
	}
	for _, m := range d.Methods {
		r.Methods = append(r.Methods, model.MethodChange{
			Method:   m.Name + m.Descriptor,
			Change:   m.Change.String(),
			Obsolete: m.Obsolete,
		})
	}
	return r
}

// RedefinitionReport describes a recorded redefinition attempt.
func RedefinitionReport(e redefine.Event) *model.RedefinitionReport {
	return &model.RedefinitionReport{
		Class:      e.Class,
		Loader:     e.Loader,
		Change:     e.Change.String(),
		Status:     int(e.Status),
		StatusName: e.Status.String(),
		Version:    e.Version,
		Reason:     e.Reason,
		At:         e.At,
	}
}
