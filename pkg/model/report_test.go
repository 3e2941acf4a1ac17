package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassReport_Type(t *testing.T) {
	tests := []struct {
		name   string
		report *ClassReport
		want   ReportType
	}{
		{"LayoutOnly", &ClassReport{Layout: &Layout{}}, ReportTypeLayout},
		{"DispatchOnly", &ClassReport{Dispatch: &Dispatch{}}, ReportTypeDispatch},
		{"Both", &ClassReport{Layout: &Layout{}, Dispatch: &Dispatch{}}, ReportTypeLayout},
		{"Neither", &ClassReport{}, ReportTypeLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Type())
		})
	}
}

func TestDiffReport(t *testing.T) {
	r := &DiffReport{Class: "p/A", Change: "method_body_change", Capability: "method_body"}
	assert.Equal(t, ReportTypeDiff, r.Type())
	assert.True(t, r.Accepted())

	r.Status = 63
	assert.False(t, r.Accepted())
}

func TestClassReport_JSONOmitsEmptySections(t *testing.T) {
	data, err := json.Marshal(&ClassReport{Name: "p/A", Loader: "bootstrap", State: "linked"})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "p/A", m["name"])
	assert.NotContains(t, m, "layout")
	assert.NotContains(t, m, "dispatch")
	assert.NotContains(t, m, "super")
}

func TestRedefinitionReport_Type(t *testing.T) {
	var r Report = &RedefinitionReport{}
	assert.Equal(t, ReportTypeRedefinition, r.Type())
}
