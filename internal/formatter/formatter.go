// Package formatter builds reports from runtime classes and redefinition
// results and prints them.
package formatter

import (
	"github.com/klasslink/pkg/model"
	"github.com/klasslink/pkg/utils"
)

// ReportFormatter prints one kind of report.
type ReportFormatter interface {
	// Format outputs the report to the logger.
	Format(r model.Report, log utils.Logger)

	// SupportedTypes returns the report types this formatter handles.
	SupportedTypes() []model.ReportType
}

// Registry manages formatter instances.
type Registry struct {
	formatters map[model.ReportType]ReportFormatter
	fallback   ReportFormatter
}

// NewRegistry creates a new formatter registry with default formatters.
func NewRegistry() *Registry {
	r := &Registry{
		formatters: make(map[model.ReportType]ReportFormatter),
		fallback:   &DefaultFormatter{},
	}

	r.Register(&ClassFormatter{})
	r.Register(&DiffFormatter{})
	r.Register(&RedefinitionFormatter{})

	return r
}

// Register registers a formatter.
func (r *Registry) Register(f ReportFormatter) {
	for _, t := range f.SupportedTypes() {
		r.formatters[t] = f
	}
}

// Get returns the formatter for a report type.
func (r *Registry) Get(t model.ReportType) ReportFormatter {
	if f, ok := r.formatters[t]; ok {
		return f
	}
	return r.fallback
}

// Format prints the report using the appropriate formatter.
func (r *Registry) Format(report model.Report, log utils.Logger) {
	if report == nil {
		return
	}
	r.Get(report.Type()).Format(report, log)
}

// DefaultFormatter is a fallback for unknown report types.
type DefaultFormatter struct{}

// SupportedTypes returns nil as this is a fallback formatter.
func (f *DefaultFormatter) SupportedTypes() []model.ReportType {
	return nil
}

// Format prints only the report type.
func (f *DefaultFormatter) Format(r model.Report, log utils.Logger) {
	log.Info("=== %s report ===", r.Type())
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
