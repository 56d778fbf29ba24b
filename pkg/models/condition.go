package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition operators. The operator set is deliberately small and fixed.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "notEquals"
	OperatorGreaterThan = "greaterThan"
	OperatorLessThan    = "lessThan"
	OperatorContains    = "contains"
)

// Condition is a single predicate evaluated against an instance's data bag.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Evaluate resolves the condition against the given data and returns the
// string "true" or "false" for edge routing. Evaluation is a pure function
// of (condition, data): malformed paths, unknown operators, and type
// mismatches all yield "false", never an error.
func (c Condition) Evaluate(data map[string]any) string {
	if c.Field == "" || c.Operator == "" {
		return "false"
	}

	actual, found := lookupPath(data, c.Field)
	if !found {
		return "false"
	}

	result := false

	switch c.Operator {
	case OperatorEquals:
		result = looseEquals(actual, c.Value)
	case OperatorNotEquals:
		result = !looseEquals(actual, c.Value)
	case OperatorGreaterThan:
		a, b, ok := bothNumeric(actual, c.Value)
		result = ok && a > b
	case OperatorLessThan:
		a, b, ok := bothNumeric(actual, c.Value)
		result = ok && a < b
	case OperatorContains:
		result = contains(actual, c.Value)
	}

	return strconv.FormatBool(result)
}

// lookupPath walks a dotted path into nested maps.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// looseEquals compares numerically when both sides are numeric, otherwise
// by string form, matching how loosely typed instance data round-trips
// through JSON.
func looseEquals(a, b any) bool {
	fa, fb, ok := bothNumeric(a, b)
	if ok {
		return fa == fb
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

func bothNumeric(a, b any) (float64, float64, bool) {
	fa, ok := toFloat(a)
	if !ok {
		return 0, 0, false
	}

	fb, ok := toFloat(b)
	if !ok {
		return 0, 0, false
	}

	return fa, fb, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func contains(actual, value any) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprint(value))
	case []any:
		for _, item := range a {
			if looseEquals(item, value) {
				return true
			}
		}

		return false
	default:
		return false
	}
}
