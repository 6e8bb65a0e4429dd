// Package filter parses tracking-client filter strings into the structured
// filter trees understood by the experiment query endpoint.
//
// The accepted grammar is a restricted SQL-like boolean expression: field
// comparisons of the form 'prefix.key operator value' joined by AND/OR, with
// parentheses for grouping. OR binds looser than AND, so
// "A AND B OR C" parses as "(A AND B) OR C".
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/facultyai/mlflow-faculty/experiment"
	"github.com/facultyai/mlflow-faculty/internal/sqltok"
	"github.com/facultyai/mlflow-faculty/tracking"
)

// Sentinel errors distinguishing the failure classes of Parse. Every error
// returned by this package wraps exactly one of them; match with errors.Is.
var (
	// ErrMalformed: the input is empty or does not tokenize as a single
	// statement.
	ErrMalformed = errors.New("malformed filter")
	// ErrUnsupportedComponent: a token grouping that is neither a
	// parenthesis group, a comparison, nor reducible by AND/OR splitting.
	ErrUnsupportedComponent = errors.New("unsupported filter component")
	// ErrInvalidIdentifier: unknown prefix, or an attribute key outside
	// the supported set.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidOperator: a comparator outside the fixed operator table.
	ErrInvalidOperator = errors.New("invalid operator")
	// ErrInvalidValue: a value that fails type-specific extraction.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnsupportedOperator: a valid operator incompatible with the
	// field's type, e.g. an ordering operator on a tag.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// ErrMatchesNothing is returned by BuildSearchRunsFilter when the requested
// filter can never match a run (an empty experiment ID list). It is not a
// parse error: callers should translate it into an empty result set.
var ErrMatchesNothing = errors.New("filter matches nothing")

const invalidIdentifierDetail = "Expected identifier of format " +
	"'attribute.run_id', 'attribute.status', 'metric.<key>', 'tag.<key>' " +
	"or 'param.<key>'"

// keyType classifies which run field a filter leaf targets. It exists only
// during parsing and drives value extraction and operator validation.
type keyType int

const (
	keyTypeRunID keyType = iota
	keyTypeStatus
	keyTypeParam
	keyTypeMetric
	keyTypeTag
)

func (k keyType) String() string {
	switch k {
	case keyTypeRunID:
		return "run ID"
	case keyTypeStatus:
		return "status"
	case keyTypeParam:
		return "parameter"
	case keyTypeMetric:
		return "metric"
	case keyTypeTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Identifier prefix alias sets, matched case-sensitively.
var (
	attributeIdentifiers = map[string]bool{
		"attribute": true, "attributes": true, "attr": true, "run": true,
	}
	runIDIdentifiers = map[string]bool{"id": true, "run_id": true}
	paramIdentifiers = map[string]bool{
		"param": true, "params": true, "parameter": true, "parameters": true,
	}
	metricIdentifiers = map[string]bool{"metric": true, "metrics": true}
	tagIdentifiers    = map[string]bool{"tag": true, "tags": true}
)

var comparisonOperators = map[string]experiment.ComparisonOperator{
	"=":  experiment.OperatorEqualTo,
	"!=": experiment.OperatorNotEqualTo,
	">":  experiment.OperatorGreaterThan,
	">=": experiment.OperatorGreaterThanOrEqualTo,
	"<":  experiment.OperatorLessThan,
	"<=": experiment.OperatorLessThanOrEqualTo,
}

// discreteOperators are the only operators valid for fields without an
// ordering (run ID, status, tag, string-valued params).
var discreteOperators = map[experiment.ComparisonOperator]bool{
	experiment.OperatorDefined:    true,
	experiment.OperatorEqualTo:    true,
	experiment.OperatorNotEqualTo: true,
}

// Parse parses a filter string into a structured filter tree. It is a pure
// function of its input: no I/O, no shared state, safe for concurrent use.
func Parse(filterString string) (experiment.Filter, error) {
	tokens, err := sqltok.Tokenize(filterString)
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing %q: %v", ErrMalformed, filterString, err)
	}
	return parseTokens(tokens)
}

// BuildSearchRunsFilter combines the inputs of a tracking-store run search
// into one filter tree: an OR over the experiment IDs, a deleted-at filter
// for the view type, and the parsed filter string, ANDed together.
// Fewer than two parts collapse to the bare part, or to nil when there is
// nothing to filter on. A nil experimentIDs slice means no experiment
// scoping; an empty one returns ErrMatchesNothing.
func BuildSearchRunsFilter(experimentIDs []string, filterString string, viewType tracking.ViewType) (experiment.Filter, error) {
	var parts []experiment.Filter

	if experimentIDs != nil {
		f, err := filterByExperimentID(experimentIDs)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}

	deletedAt, err := filterByViewType(viewType)
	if err != nil {
		return nil, err
	}
	if deletedAt != nil {
		parts = append(parts, deletedAt)
	}

	if strings.TrimSpace(filterString) != "" {
		f, err := Parse(filterString)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	default:
		return experiment.CompoundFilter{Operator: experiment.LogicalAnd, Conditions: parts}, nil
	}
}

func filterByExperimentID(experimentIDs []string) (experiment.Filter, error) {
	if len(experimentIDs) == 0 {
		return nil, ErrMatchesNothing
	}

	parts := make([]experiment.Filter, 0, len(experimentIDs))
	for _, id := range experimentIDs {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid experiment ID %q", id)
		}
		parts = append(parts, experiment.ExperimentIDFilter{
			Operator: experiment.OperatorEqualTo,
			Value:    n,
		})
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return experiment.CompoundFilter{Operator: experiment.LogicalOr, Conditions: parts}, nil
}

func filterByViewType(viewType tracking.ViewType) (experiment.Filter, error) {
	switch viewType {
	case tracking.ViewTypeActiveOnly:
		return experiment.DeletedAtFilter{Operator: experiment.OperatorDefined, Value: false}, nil
	case tracking.ViewTypeDeletedOnly:
		return experiment.DeletedAtFilter{Operator: experiment.OperatorDefined, Value: true}, nil
	case tracking.ViewTypeAll:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid view type %d", viewType)
	}
}

// parseTokens reduces a token list to a single filter: split on OR, then on
// AND, then unwrap groups, then build a leaf from a three-token comparison.
func parseTokens(tokens []sqltok.Token) (experiment.Filter, error) {
	tokens = stripWhitespace(tokens)

	if containsKeyword(tokens, "OR") {
		return parseCompound(tokens, "OR", experiment.LogicalOr)
	}
	if containsKeyword(tokens, "AND") {
		return parseCompound(tokens, "AND", experiment.LogicalAnd)
	}

	switch len(tokens) {
	case 1:
		tok := tokens[0]
		switch tok.Kind {
		case sqltok.KindParenGroup, sqltok.KindComparison:
			return parseTokens(tok.Children)
		default:
			return nil, unsupportedComponent(tokens)
		}
	case 3:
		return parseLeaf(tokens[0], tokens[1], tokens[2])
	default:
		return nil, unsupportedComponent(tokens)
	}
}

// parseCompound splits on every occurrence of the keyword at this nesting
// level and parses each segment, flattening same-precedence runs into one
// n-ary compound.
func parseCompound(tokens []sqltok.Token, keyword string, op experiment.LogicalOperator) (experiment.Filter, error) {
	var conditions []experiment.Filter
	var segment []sqltok.Token

	flush := func() error {
		f, err := parseTokens(segment)
		if err != nil {
			return err
		}
		conditions = append(conditions, f)
		segment = nil
		return nil
	}

	for _, tok := range tokens {
		if tok.IsKeyword(keyword) {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		segment = append(segment, tok)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return experiment.CompoundFilter{Operator: op, Conditions: conditions}, nil
}

func parseLeaf(identifierTok, operatorTok, valueTok sqltok.Token) (experiment.Filter, error) {
	kt, key, err := parseIdentifier(identifierTok)
	if err != nil {
		return nil, err
	}
	op, err := parseOperator(operatorTok)
	if err != nil {
		return nil, err
	}
	value, err := parseValue(kt, op, valueTok)
	if err != nil {
		return nil, err
	}
	if err := validateOperator(kt, op, value); err != nil {
		return nil, err
	}

	switch kt {
	case keyTypeRunID:
		return experiment.RunIDFilter{Operator: op, Value: value}, nil
	case keyTypeStatus:
		return experiment.RunStatusFilter{Operator: op, Value: value}, nil
	case keyTypeParam:
		return experiment.ParamFilter{Key: key, Operator: op, Value: value}, nil
	case keyTypeMetric:
		return experiment.MetricFilter{Key: key, Operator: op, Value: value}, nil
	case keyTypeTag:
		return experiment.TagFilter{Key: key, Operator: op, Value: value}, nil
	default:
		return nil, fmt.Errorf("unexpected key type %v", kt)
	}
}

func parseIdentifier(tok sqltok.Token) (keyType, string, error) {
	if tok.Kind != sqltok.KindIdentifier {
		return 0, "", invalidIdentifier(tok.Raw)
	}

	prefix, key, found := strings.Cut(tok.Raw, ".")
	if !found {
		return 0, "", invalidIdentifier(tok.Raw)
	}
	key = stripQuotes(key)

	switch {
	case attributeIdentifiers[prefix]:
		if runIDIdentifiers[key] {
			return keyTypeRunID, "", nil
		}
		if key == "status" {
			return keyTypeStatus, "", nil
		}
		return 0, "", invalidIdentifier(tok.Raw)
	case paramIdentifiers[prefix]:
		return keyTypeParam, key, nil
	case metricIdentifiers[prefix]:
		return keyTypeMetric, key, nil
	case tagIdentifiers[prefix]:
		return keyTypeTag, key, nil
	default:
		return 0, "", invalidIdentifier(tok.Raw)
	}
}

func parseOperator(tok sqltok.Token) (experiment.ComparisonOperator, error) {
	if tok.IsKeyword("IS") {
		return experiment.OperatorDefined, nil
	}
	if tok.Kind == sqltok.KindCompareOp {
		if op, ok := comparisonOperators[tok.Raw]; ok {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a valid operator", ErrInvalidOperator, tok.Raw)
}

func parseValue(kt keyType, op experiment.ComparisonOperator, tok sqltok.Token) (any, error) {
	if op == experiment.OperatorDefined {
		return extractDefined(tok)
	}

	switch kt {
	case keyTypeRunID:
		s, err := extractString(tok)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, invalidValue("a UUID", s)
		}
		return id, nil
	case keyTypeStatus:
		s, err := extractString(tok)
		if err != nil {
			return nil, err
		}
		status, ok := experiment.ParseRunStatus(strings.ToLower(s))
		if !ok {
			return nil, invalidValue(
				fmt.Sprintf("a run status (one of %s)", validStatusList()), s)
		}
		return status, nil
	case keyTypeParam:
		return extractNumberOrString(tok)
	case keyTypeMetric:
		return extractNumber(tok)
	case keyTypeTag:
		return extractString(tok)
	default:
		return nil, fmt.Errorf("unexpected key type %v", kt)
	}
}

func validateOperator(kt keyType, op experiment.ComparisonOperator, value any) error {
	discreteKeyType := kt == keyTypeRunID || kt == keyTypeStatus || kt == keyTypeTag
	if discreteKeyType && !discreteOperators[op] {
		return fmt.Errorf(
			"%w: %s filters can only be used with operators '=', '!=' and 'IS NULL'",
			ErrUnsupportedOperator, capitalize(kt.String()))
	}
	if _, isString := value.(string); kt == keyTypeParam && isString && !discreteOperators[op] {
		return fmt.Errorf(
			"%w: Param filters with string values can only be used with operators '=', '!=' and 'IS NULL'",
			ErrUnsupportedOperator)
	}
	return nil
}

// extractDefined maps the value of an IS comparison to the boolean carried
// by the defined operator: NULL means "not defined", NOT NULL "defined".
func extractDefined(tok sqltok.Token) (any, error) {
	if tok.IsKeyword("NULL") {
		return false, nil
	}
	if tok.IsKeyword("NOT NULL") {
		return true, nil
	}
	return nil, invalidValue("NULL or NOT NULL", tok.Raw)
}

func extractNumber(tok sqltok.Token) (any, error) {
	switch tok.Kind {
	case sqltok.KindInteger:
		n, err := strconv.ParseInt(tok.Raw, 10, 64)
		if err != nil {
			return nil, invalidValue("a number", tok.Raw)
		}
		return n, nil
	case sqltok.KindFloat:
		f, err := strconv.ParseFloat(tok.Raw, 64)
		if err != nil {
			return nil, invalidValue("a number", tok.Raw)
		}
		return f, nil
	default:
		return nil, invalidValue("a number", tok.Raw)
	}
}

func extractString(tok sqltok.Token) (string, error) {
	if tok.Kind == sqltok.KindString || tok.Kind == sqltok.KindIdentifier {
		if isQuoted(tok.Raw) {
			return tok.Raw[1 : len(tok.Raw)-1], nil
		}
	}
	return "", invalidValue("a quoted string (e.g. 'my-value')", tok.Raw)
}

// extractNumberOrString extracts a param value, preferring the numeric
// interpretation.
func extractNumberOrString(tok sqltok.Token) (any, error) {
	if n, err := extractNumber(tok); err == nil {
		return n, nil
	}
	if s, err := extractString(tok); err == nil {
		return s, nil
	}
	return nil, invalidValue("a number or quoted string", tok.Raw)
}

var quoteChars = []byte{'"', '\'', '`'}

func isQuoted(s string) bool {
	for _, q := range quoteChars {
		if len(s) >= 2 && s[0] == q && s[len(s)-1] == q {
			return true
		}
	}
	return false
}

// stripQuotes removes one layer of surrounding quotes if present; unquoted
// input is returned unchanged.
func stripQuotes(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

func stripWhitespace(tokens []sqltok.Token) []sqltok.Token {
	out := make([]sqltok.Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind != sqltok.KindWhitespace {
			out = append(out, tok)
		}
	}
	return out
}

func containsKeyword(tokens []sqltok.Token, kw string) bool {
	for _, tok := range tokens {
		if tok.IsKeyword(kw) {
			return true
		}
	}
	return false
}

func unsupportedComponent(tokens []sqltok.Token) error {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, tok.Normalized)
	}
	return fmt.Errorf("%w: unsupported filter string component %q",
		ErrUnsupportedComponent, strings.Join(parts, " "))
}

func invalidIdentifier(raw string) error {
	return fmt.Errorf("%w: invalid identifier %q. %s",
		ErrInvalidIdentifier, raw, invalidIdentifierDetail)
}

func invalidValue(expected, found string) error {
	return fmt.Errorf("%w: expected %s but found %q", ErrInvalidValue, expected, found)
}

func validStatusList() string {
	parts := make([]string, 0, len(experiment.RunStatuses))
	for _, s := range experiment.RunStatuses {
		parts = append(parts, strings.ToUpper(string(s)))
	}
	return strings.Join(parts, ", ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
