package models

import (
	"fmt"
	"strings"
)

// Condition is a single field comparison inside a rule predicate.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Predicate is a conjunction of conditions evaluated against an entity's
// field values. An empty predicate matches every record.
type Predicate []Condition

const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpContains = "contains"
)

func (p Predicate) Validate() error {
	for i, c := range p {
		if c.Field == "" {
			return fmt.Errorf("predicate condition %d: field is required", i)
		}
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("predicate condition %d: %q requires a list value", i, OpIn)
			}
		default:
			return fmt.Errorf("predicate condition %d: unknown operator %q", i, c.Op)
		}
	}
	return nil
}

func (p Predicate) Match(values map[string]any) bool {
	for _, c := range p {
		if !c.match(values[c.Field]) {
			return false
		}
	}
	return true
}

func (c Condition) match(actual any) bool {
	switch c.Op {
	case OpEq:
		return valuesEqual(actual, c.Value)
	case OpNe:
		return !valuesEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
		return false
	case OpContains:
		s, okS := actual.(string)
		sub, okSub := c.Value.(string)
		return okS && okSub && strings.Contains(s, sub)
	}
	return false
}

// valuesEqual compares two field values with numeric coercion, since JSON
// decoding turns every number into float64 while host callers may pass ints.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if a == b {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
