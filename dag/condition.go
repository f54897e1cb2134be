package dag

import (
	"strconv"
	"strings"

	"github.com/shreyasdbz/axis/core"
)

// evaluateCondition implements the condition truth table from spec §4.4.
// A false result (or a lookup failure for any operator other than exists)
// means the step should be skipped with reason ConditionFalse.
func evaluateCondition(cond *core.StepCondition, acc resultAccessor) bool {
	if cond == nil {
		return true
	}
	stepID, field, ok := parseStepFieldRef(cond.Field)
	if !ok {
		return false
	}
	res, found := acc.get(stepID)
	var lookup Optional
	if found {
		lookup = resolveStepField(res, field)
	}

	switch cond.Operator {
	case "exists":
		return lookup.Found && lookup.Value != nil
	case "eq":
		if !lookup.Found {
			return false
		}
		return looseEqual(lookup.Value, cond.Value)
	case "neq":
		if !lookup.Found {
			return false
		}
		return !looseEqual(lookup.Value, cond.Value)
	case "gt":
		a, aok := toFloat(lookup.Value)
		b, bok := toFloat(cond.Value)
		return lookup.Found && aok && bok && a > b
	case "lt":
		a, aok := toFloat(lookup.Value)
		b, bok := toFloat(cond.Value)
		return lookup.Found && aok && bok && a < b
	case "contains":
		return lookup.Found && contains(lookup.Value, cond.Value)
	default:
		return false
	}
}

// looseEqual compares two values with best-effort numeric coercion when one
// operand is a number-bearing string, per spec §4.4.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(h, n)
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
