package experiment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func marshalFilter(t *testing.T, f Filter) string {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return string(b)
}

func TestMarshalLeafFilters(t *testing.T) {
	runID := uuid.MustParse("02a23c82-7b23-4d68-ab1d-b3f0e2b6ac98")
	deletedAt := time.Date(2021, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   Filter
		expected string
	}{
		{
			name:     "run ID",
			filter:   RunIDFilter{Operator: OperatorEqualTo, Value: runID},
			expected: `{"by":"runId","operator":"eq","value":"02a23c82-7b23-4d68-ab1d-b3f0e2b6ac98"}`,
		},
		{
			name:     "experiment ID",
			filter:   ExperimentIDFilter{Operator: OperatorNotEqualTo, Value: 4},
			expected: `{"by":"experimentId","operator":"ne","value":4}`,
		},
		{
			name:     "status",
			filter:   RunStatusFilter{Operator: OperatorEqualTo, Value: RunStatusRunning},
			expected: `{"by":"status","operator":"eq","value":"running"}`,
		},
		{
			name:     "deleted at defined",
			filter:   DeletedAtFilter{Operator: OperatorDefined, Value: false},
			expected: `{"by":"deletedAt","operator":"defined","value":false}`,
		},
		{
			name:     "deleted at time",
			filter:   DeletedAtFilter{Operator: OperatorGreaterThan, Value: deletedAt},
			expected: `{"by":"deletedAt","operator":"gt","value":"2021-03-01T12:30:00Z"}`,
		},
		{
			name:     "param string",
			filter:   ParamFilter{Key: "alpha", Operator: OperatorEqualTo, Value: "abc"},
			expected: `{"by":"param","key":"alpha","operator":"eq","value":"abc"}`,
		},
		{
			name:     "param number",
			filter:   ParamFilter{Key: "alpha", Operator: OperatorGreaterThan, Value: int64(2)},
			expected: `{"by":"param","key":"alpha","operator":"gt","value":2}`,
		},
		{
			name:     "metric",
			filter:   MetricFilter{Key: "accuracy", Operator: OperatorGreaterThanOrEqualTo, Value: 0.87},
			expected: `{"by":"metric","key":"accuracy","operator":"ge","value":0.87}`,
		},
		{
			name:     "tag",
			filter:   TagFilter{Key: "env", Operator: OperatorNotEqualTo, Value: "prod"},
			expected: `{"by":"tag","key":"env","operator":"ne","value":"prod"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := marshalFilter(t, tt.filter); got != tt.expected {
				t.Errorf("got %s\nwant %s", got, tt.expected)
			}
		})
	}
}

func TestMarshalCompoundFilter(t *testing.T) {
	f := CompoundFilter{
		Operator: LogicalOr,
		Conditions: []Filter{
			CompoundFilter{
				Operator: LogicalAnd,
				Conditions: []Filter{
					MetricFilter{Key: "a", Operator: OperatorGreaterThan, Value: int64(1)},
					MetricFilter{Key: "b", Operator: OperatorLessThan, Value: int64(2)},
				},
			},
			TagFilter{Key: "c", Operator: OperatorEqualTo, Value: "x"},
		},
	}

	expected := `{"operator":"or","conditions":[` +
		`{"operator":"and","conditions":[` +
		`{"by":"metric","key":"a","operator":"gt","value":1},` +
		`{"by":"metric","key":"b","operator":"lt","value":2}]},` +
		`{"by":"tag","key":"c","operator":"eq","value":"x"}]}`

	if got := marshalFilter(t, f); got != expected {
		t.Errorf("got %s\nwant %s", got, expected)
	}
}

func TestParseRunStatus(t *testing.T) {
	for _, status := range RunStatuses {
		parsed, ok := ParseRunStatus(string(status))
		if !ok || parsed != status {
			t.Errorf("ParseRunStatus(%q) = %v, %v", status, parsed, ok)
		}
	}
	if _, ok := ParseRunStatus("sleeping"); ok {
		t.Error("ParseRunStatus accepted an unknown status")
	}
}
