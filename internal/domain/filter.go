package domain

import (
	"encoding/json"
	"fmt"
)

// Connective is a prefix-notation boolean operator inside a filter.
type Connective string

const (
	ConnectiveAnd Connective = "&"
	ConnectiveOr  Connective = "|"
	ConnectiveNot Connective = "!"
)

// AllowedConnectives is the closed set of boolean connectives a filter may use.
var AllowedConnectives = map[Connective]struct{}{
	ConnectiveAnd: {},
	ConnectiveOr:  {},
	ConnectiveNot: {},
}

// FilterOperator is a comparison operator inside a filter predicate.
type FilterOperator string

const (
	OpEq        FilterOperator = "="
	OpNeq       FilterOperator = "!="
	OpGt        FilterOperator = ">"
	OpGte       FilterOperator = ">="
	OpLt        FilterOperator = "<"
	OpLte       FilterOperator = "<="
	OpLike      FilterOperator = "like"
	OpNotLike   FilterOperator = "not like"
	OpILike     FilterOperator = "ilike"
	OpNotILike  FilterOperator = "not ilike"
	OpEqLike    FilterOperator = "=like"
	OpEqILike   FilterOperator = "=ilike"
	OpIn        FilterOperator = "in"
	OpNotIn     FilterOperator = "not in"
	OpChildOf   FilterOperator = "child_of"
	OpParentOf  FilterOperator = "parent_of"
)

// AllowedFilterOperators is the operator allowlist enforced by the validator.
// Anything outside this set is rejected for every entity.
var AllowedFilterOperators = map[FilterOperator]struct{}{
	OpEq: {}, OpNeq: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpLike: {}, OpNotLike: {}, OpILike: {}, OpNotILike: {},
	OpEqLike: {}, OpEqILike: {},
	OpIn: {}, OpNotIn: {},
	OpChildOf: {}, OpParentOf: {},
}

// Predicate is a single (field, operator, value) comparison.
type Predicate struct {
	Field    string
	Operator FilterOperator
	Value    any
}

// FilterTerm is one element of a filter: either a boolean connective or a
// predicate triple. Exactly one of the two is set; normalization guarantees
// the invariant for every term that reaches validation.
type FilterTerm struct {
	Connective Connective
	Predicate  *Predicate
}

// IsConnective reports whether the term is a boolean connective.
func (t FilterTerm) IsConnective() bool {
	return t.Predicate == nil
}

// ConnectiveTerm builds a connective filter term.
func ConnectiveTerm(c Connective) FilterTerm {
	return FilterTerm{Connective: c}
}

// PredicateTerm builds a predicate filter term.
func PredicateTerm(field string, op FilterOperator, value any) FilterTerm {
	return FilterTerm{Predicate: &Predicate{Field: field, Operator: op, Value: value}}
}

// MarshalJSON renders a connective as a bare string and a predicate as a
// three-element array, matching the wire shape callers submit.
func (t FilterTerm) MarshalJSON() ([]byte, error) {
	if t.IsConnective() {
		return json.Marshal(string(t.Connective))
	}
	return json.Marshal([]any{t.Predicate.Field, string(t.Predicate.Operator), t.Predicate.Value})
}

// UnmarshalJSON accepts either a bare string (connective) or an array of at
// least three elements (field, operator, value). Any other shape is a
// malformed plan; operator and field legality are checked later by the
// validator so rejection reasons can accumulate.
func (t *FilterTerm) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Connective = Connective(s)
		t.Predicate = nil
		return nil
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("%w: filter term must be a string or an array", ErrMalformedPlan)
	}
	if len(arr) < 3 {
		return fmt.Errorf("%w: filter term needs field, operator and value", ErrMalformedPlan)
	}
	field, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("%w: filter term field must be a string", ErrMalformedPlan)
	}
	op, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("%w: filter term operator must be a string", ErrMalformedPlan)
	}
	t.Connective = ""
	t.Predicate = &Predicate{Field: field, Operator: FilterOperator(op), Value: arr[2]}
	return nil
}
