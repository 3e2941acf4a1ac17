package formatter

import (
	"strings"

	"github.com/klasslink/pkg/model"
	"github.com/klasslink/pkg/utils"
)

// ClassFormatter prints layout and dispatch reports.
type ClassFormatter struct{}

// SupportedTypes returns the class report types.
func (f *ClassFormatter) SupportedTypes() []model.ReportType {
	return []model.ReportType{model.ReportTypeLayout, model.ReportTypeDispatch}
}

// Format prints a class report.
func (f *ClassFormatter) Format(report model.Report, log utils.Logger) {
	r, ok := report.(*model.ClassReport)
	if !ok {
		return
	}

	log.Info("=== %s ===", r.Name)
	log.Info("Loader:     %s", r.Loader)
	if r.Super != "" {
		log.Info("Super:      %s", r.Super)
	}
	if len(r.Interfaces) > 0 {
		log.Info("Interfaces: %s", strings.Join(r.Interfaces, ", "))
	}
	log.Info("Version:    %d (%s)", r.Version, r.State)
	log.Info("")

	if l := r.Layout; l != nil {
		log.Info("=== Instance Fields (%d bytes, %d references, table length %d) ===",
			l.InstanceBytes, l.InstanceObjects, l.FieldTableLength)
		printFields(log, l.InstanceFields, l.InstanceHoles)
		log.Info("=== Static Fields (%d bytes, %d references) ===", l.StaticBytes, l.StaticObjects)
		printFields(log, l.StaticFields, l.StaticHoles)
	}

	if d := r.Dispatch; d != nil {
		log.Info("=== VTable (%d) ===", len(d.VTable))
		printMethods(log, d.VTable)
		for _, it := range d.ITable {
			log.Info("=== ITable %s (%d) ===", it.Interface, len(it.Methods))
			printMethods(log, it.Methods)
		}
	}
}

func printFields(log utils.Logger, fields []model.FieldReport, holes []model.Range) {
	for _, fr := range fields {
		where := "ref"
		if fr.Size > 0 {
			where = "byte"
		}
		hidden := ""
		if fr.Hidden {
			hidden = " (hidden)"
		}
		log.Info("  %3d. %-4s %4d  %-8s %s%s", fr.Slot, where, fr.Index, fr.Kind, truncateString(fr.Name, 60), hidden)
	}
	for _, h := range holes {
		log.Info("  hole [%d,%d)", h.Start, h.End)
	}
	log.Info("")
}

func printMethods(log utils.Logger, methods []model.MethodEntry) {
	for _, m := range methods {
		var tags []string
		if m.Abstract {
			tags = append(tags, "abstract")
		}
		if m.Default {
			tags = append(tags, "default")
		}
		if m.Miranda {
			tags = append(tags, "miranda")
		}
		if m.Proxy {
			tags = append(tags, "proxy")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " [" + strings.Join(tags, ",") + "]"
		}
		log.Info("  %3d. %s.%s%s%s", m.Index, m.Holder, m.Name, truncateString(m.Signature, 80), suffix)
	}
	log.Info("")
}
