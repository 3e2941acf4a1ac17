package formatter

import (
	"github.com/klasslink/pkg/model"
	"github.com/klasslink/pkg/utils"
)

// DiffFormatter prints diff reports.
type DiffFormatter struct{}

// SupportedTypes returns the diff report type.
func (f *DiffFormatter) SupportedTypes() []model.ReportType {
	return []model.ReportType{model.ReportTypeDiff}
}

// Format prints a diff report.
func (f *DiffFormatter) Format(report model.Report, log utils.Logger) {
	r, ok := report.(*model.DiffReport)
	if !ok {
		return
	}

	log.Info("=== %s ===", r.Class)
	log.Info("Change:     %s", r.Change)
	if r.Reason != "" {
		log.Info("Reason:     %s", r.Reason)
	}
	log.Info("Capability: %s", r.Capability)
	if r.Accepted() {
		log.Info("Status:     %s", r.StatusName)
	} else {
		log.Warn("Status:     %s (%d)", r.StatusName, r.Status)
	}

	changed := 0
	for _, m := range r.Methods {
		if m.Change != "no_change" || m.Obsolete {
			changed++
		}
	}
	if changed > 0 {
		log.Info("")
		log.Info("=== Methods ===")
		for _, m := range r.Methods {
			if m.Change == "no_change" && !m.Obsolete {
				continue
			}
			if m.Obsolete {
				log.Info("  %s  %s (obsolete)", m.Change, truncateString(m.Method, 80))
			} else {
				log.Info("  %s  %s", m.Change, truncateString(m.Method, 80))
			}
		}
	}
	log.Info("")
}

// RedefinitionFormatter prints recorded redefinition attempts.
type RedefinitionFormatter struct{}

// SupportedTypes returns the redefinition report type.
func (f *RedefinitionFormatter) SupportedTypes() []model.ReportType {
	return []model.ReportType{model.ReportTypeRedefinition}
}

// Format prints one line per attempt.
func (f *RedefinitionFormatter) Format(report model.Report, log utils.Logger) {
	r, ok := report.(*model.RedefinitionReport)
	if !ok {
		return
	}
	log.Info("%s  %-24s %-10s v%d  %s  %s",
		r.At.Format("2006-01-02 15:04:05"), r.Class, r.Loader, r.Version, r.Change, r.StatusName)
	if r.Reason != "" {
		log.Info("    %s", truncateString(r.Reason, 100))
	}
}
