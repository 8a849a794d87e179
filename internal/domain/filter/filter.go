// Package filter describes the metadata pre-filter applied before vector search.
package filter

import (
	"fmt"
	"slices"
	"strings"
)

// MaxConditions caps the number of clauses in one expression.
const MaxConditions = 16

// Field names an indexed tag attribute of a catalog record.
type Field string

// Filterable fields.
const (
	FieldResource    Field = "resource"
	FieldServiceType Field = "service_type"
)

var knownFields = []Field{FieldResource, FieldServiceType}

// Condition matches records whose field equals any of the values.
type Condition struct {
	field  Field
	values []string
	negate bool
}

// NewCondition validates and creates a tag condition.
func NewCondition(field Field, values []string, negate bool) (Condition, error) {
	if !slices.Contains(knownFields, field) {
		return Condition{}, fmt.Errorf("unknown filter field %q", field)
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return Condition{}, fmt.Errorf("filter %q requires at least one value", field)
	}
	return Condition{field: field, values: clean, negate: negate}, nil
}

// Field returns the attribute name.
func (c Condition) Field() Field { return c.field }

// Values returns the accepted values (OR semantics).
func (c Condition) Values() []string { return c.values }

// Expression is a conjunction of conditions.
type Expression struct {
	conditions []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(conds ...Condition) (Expression, error) {
	if len(conds) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	return Expression{conditions: conds}, nil
}

// Parse builds an expression from "field=v1,v2" clauses; a leading "!" negates the clause.
func Parse(clauses []string) (Expression, error) {
	conds := make([]Condition, 0, len(clauses))
	for _, raw := range clauses {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		negate := strings.HasPrefix(raw, "!")
		raw = strings.TrimPrefix(raw, "!")

		key, vals, ok := strings.Cut(raw, "=")
		if !ok {
			return Expression{}, fmt.Errorf("filter %q must look like field=value", raw)
		}
		cond, err := NewCondition(Field(strings.TrimSpace(key)), strings.Split(vals, ","), negate)
		if err != nil {
			return Expression{}, err
		}
		conds = append(conds, cond)
	}
	return NewExpression(conds...)
}

// Must returns the positive conditions.
func (e Expression) Must() []Condition {
	var out []Condition
	for _, c := range e.conditions {
		if !c.negate {
			out = append(out, c)
		}
	}
	return out
}

// MustNot returns the negated conditions.
func (e Expression) MustNot() []Condition {
	var out []Condition
	for _, c := range e.conditions {
		if c.negate {
			out = append(out, c)
		}
	}
	return out
}

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.conditions) == 0 }
