package experiment

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogicalOperator joins the conditions of a CompoundFilter.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// ComparisonOperator is the closed set of operators the query endpoint
// understands. OperatorDefined is the IS [NOT] NULL presence check and takes
// a boolean value; all other operators compare against a field-typed value.
type ComparisonOperator string

const (
	OperatorDefined              ComparisonOperator = "defined"
	OperatorEqualTo              ComparisonOperator = "eq"
	OperatorNotEqualTo           ComparisonOperator = "ne"
	OperatorGreaterThan          ComparisonOperator = "gt"
	OperatorGreaterThanOrEqualTo ComparisonOperator = "ge"
	OperatorLessThan             ComparisonOperator = "lt"
	OperatorLessThanOrEqualTo    ComparisonOperator = "le"
)

// Filter is a node in a run query filter tree. Implementations are the
// fixed set of leaf filters below plus CompoundFilter; trees are built
// fresh per query and never mutated.
type Filter interface {
	filterNode() // marker method
}

// RunIDFilter matches runs by ID. Value is a uuid.UUID, or a bool under
// OperatorDefined.
type RunIDFilter struct {
	Operator ComparisonOperator
	Value    any
}

// ExperimentIDFilter matches runs belonging to an experiment. Value is an
// int, or a bool under OperatorDefined.
type ExperimentIDFilter struct {
	Operator ComparisonOperator
	Value    any
}

// RunStatusFilter matches runs by status. Value is a RunStatus, or a bool
// under OperatorDefined.
type RunStatusFilter struct {
	Operator ComparisonOperator
	Value    any
}

// DeletedAtFilter matches runs by deletion time. Value is a time.Time, or a
// bool under OperatorDefined.
type DeletedAtFilter struct {
	Operator ComparisonOperator
	Value    any
}

// ParamFilter matches runs by a logged param. Value is an int64, float64 or
// string, or a bool under OperatorDefined.
type ParamFilter struct {
	Key      string
	Operator ComparisonOperator
	Value    any
}

// MetricFilter matches runs by the latest value of a metric. Value is a
// float64, or a bool under OperatorDefined.
type MetricFilter struct {
	Key      string
	Operator ComparisonOperator
	Value    any
}

// TagFilter matches runs by a tag. Value is a string, or a bool under
// OperatorDefined.
type TagFilter struct {
	Key      string
	Operator ComparisonOperator
	Value    any
}

// CompoundFilter joins two or more filters with a logical operator.
// Callers must collapse degenerate compounds to the single child instead of
// constructing a one-element compound.
type CompoundFilter struct {
	Operator   LogicalOperator
	Conditions []Filter
}

func (RunIDFilter) filterNode()        {}
func (ExperimentIDFilter) filterNode() {}
func (RunStatusFilter) filterNode()    {}
func (DeletedAtFilter) filterNode()    {}
func (ParamFilter) filterNode()        {}
func (MetricFilter) filterNode()       {}
func (TagFilter) filterNode()          {}
func (CompoundFilter) filterNode()     {}

// leafJSON is the wire shape of a leaf filter.
type leafJSON struct {
	By       string             `json:"by"`
	Key      *string            `json:"key,omitempty"`
	Operator ComparisonOperator `json:"operator"`
	Value    any                `json:"value"`
}

func marshalLeaf(by string, key *string, op ComparisonOperator, value any) ([]byte, error) {
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339Nano)
	}
	if s, ok := value.(fmt.Stringer); ok {
		value = s.String()
	}
	return json.Marshal(leafJSON{By: by, Key: key, Operator: op, Value: value})
}

func (f RunIDFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("runId", nil, f.Operator, f.Value)
}

func (f ExperimentIDFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("experimentId", nil, f.Operator, f.Value)
}

func (f RunStatusFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("status", nil, f.Operator, f.Value)
}

func (f DeletedAtFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("deletedAt", nil, f.Operator, f.Value)
}

func (f ParamFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("param", &f.Key, f.Operator, f.Value)
}

func (f MetricFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("metric", &f.Key, f.Operator, f.Value)
}

func (f TagFilter) MarshalJSON() ([]byte, error) {
	return marshalLeaf("tag", &f.Key, f.Operator, f.Value)
}

func (f CompoundFilter) MarshalJSON() ([]byte, error) {
	conditions := make([]json.RawMessage, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, b)
	}
	return json.Marshal(struct {
		Operator   LogicalOperator   `json:"operator"`
		Conditions []json.RawMessage `json:"conditions"`
	}{f.Operator, conditions})
}
