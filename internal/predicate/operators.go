// internal/predicate/operators.go
package predicate

import (
	"time"
)

/*
 * Primitive comparison logic.
 *
 * Values reaching these helpers come from two places: the compiled predicate
 * (float64, time.Time, string) and the record accessor (float64, time.Time,
 * string, []string). Mismatched types never match.
 *
 * Null handling: a record without a value fails every comparison except Ne,
 * which matches. This mirrors document-store semantics where "not equal"
 * includes documents lacking the field.
 */

// compare applies op to a present record value and the predicate target.
func compare(op CompareOp, value, target any) bool {
	c, ok := order(value, target)
	if !ok {
		// Incomparable types are never equal, so Ne holds.
		return op == Ne
	}
	switch op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	default:
		return false
	}
}

// order performs a three-way comparison (-1/0/1) of same-typed values.
// Returns false for incomparable types.
func order(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		return threeWay(av < bv, av > bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return threeWay(av.Before(bv), av.After(bv)), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return threeWay(av < bv, av > bv), true
	default:
		if af, ok := asFloat(a); ok {
			return order(af, b)
		}
		return 0, false
	}
}

func threeWay(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

// asFloat converts Go numeric kinds to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// containsAll reports whether have includes every element of want.
func containsAll(have any, want []string) bool {
	arr, ok := have.([]string)
	if !ok {
		return false
	}
	set := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		set[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
