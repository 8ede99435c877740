// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Value coercion for rule leaves.
 *
 * Each operator coerces its raw leaf value (decoded JSON or Go literals) to
 * the operand the compiler needs:
 *   - number: finite float64 from float/int/json.Number/numeric string
 *   - date: UTC time.Time from time.Time, RFC3339 or YYYY-MM-DD strings,
 *     truncated to types.TimePrecision
 *   - days: non-negative integer, integral floats and strings accepted
 *   - text: non-empty string; numbers are rendered as text
 *   - tags: normalized, de-duplicated, non-empty []string
 *
 * Every failure wraps types.ErrCoercionFailed (or ErrTooManyTagValues) with a
 * reason the validator reports verbatim.
 *
 * Strict on numbers: booleans never coerce. Whitespace-only strings are not
 * valid numbers.
 */

func coercionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrCoercionFailed, fmt.Sprintf(format, args...))
}

// coerceNumber converts value to a finite float64.
func coerceNumber(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, coercionError("expected a number, got %q", v.String())
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, coercionError("expected a number, got an empty string")
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, coercionError("expected a number, got %q", v)
		}
		f = parsed
	default:
		return 0, coercionError("expected a number, got %T", value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, coercionError("expected a finite number")
	}
	return f, nil
}

// dateLayouts are tried in order when parsing date strings.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// coerceDate converts value to a UTC calendar instant.
func coerceDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Truncate(types.TimePrecision), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(types.TimePrecision), nil
			}
		}
		return time.Time{}, coercionError("expected a date (RFC3339 or YYYY-MM-DD), got %q", v)
	default:
		return time.Time{}, coercionError("expected a date, got %T", value)
	}
}

// coerceDays converts value to a non-negative whole day count.
func coerceDays(value any) (int, error) {
	f, err := coerceNumber(value)
	if err != nil {
		return 0, coercionError("expected a non-negative whole number of days")
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, coercionError("expected a non-negative whole number of days, got %v", f)
	}
	if f > types.MaxDayWindow {
		return 0, coercionError("day count exceeds %d", types.MaxDayWindow)
	}
	return int(f), nil
}

// coerceText converts value to the literal used by pattern operators.
// Lenient: numbers are rendered as text. The literal itself is not trimmed.
func coerceText(value any) (string, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return "", coercionError("expected a string, got %T", value)
	}
	if strings.TrimSpace(s) == "" {
		return "", coercionError("expected a non-empty string")
	}
	return s, nil
}

// coerceTags normalizes a has_all value into a de-duplicated tag list.
// Accepts a list of strings, a single string, or a comma-separated string.
func coerceTags(value any) ([]string, error) {
	var raw []string
	switch v := value.(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		raw = make([]string, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, coercionError("tag at index %d must be a string, got %T", i, elem)
			}
			raw = append(raw, s)
		}
	default:
		return nil, coercionError("expected a list of tags, got %T", value)
	}

	tags := NormalizeTags(raw)
	if len(tags) == 0 {
		return nil, coercionError("expected at least one non-empty tag")
	}
	if len(tags) > types.MaxTagValues {
		return nil, fmt.Errorf("%w: %d tags exceeds %d", types.ErrTooManyTagValues, len(tags), types.MaxTagValues)
	}
	return tags, nil
}

// NormalizeTags trims tags, drops empties and removes duplicates,
// preserving first occurrence order.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
