// internal/rules/validate.go
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Rule tree validation.
 *
 * Walks the whole tree and collects every violation with a JSON-path style
 * location ($, $.rules[0], $.rules[0].value). Validation never stops at the
 * first failure so callers get complete feedback in one round trip.
 *
 * Per leaf, checks run field -> operator -> value; a later check is skipped
 * when an earlier one makes it meaningless (no operator check against an
 * unknown field, no coercion under an unsupported operator).
 */

// Validate checks a rule tree against the registry.
func Validate(node types.Node) types.ValidationResult {
	var v validator
	v.node(node, "$")
	return types.ValidationResult{
		Valid:      len(v.violations) == 0,
		Violations: v.violations,
	}
}

type validator struct {
	violations []types.Violation
}

func (v *validator) add(path string, kind types.ViolationKind, format string, args ...any) {
	v.violations = append(v.violations, types.Violation{
		Path:   path,
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (v *validator) node(n types.Node, path string) {
	switch n := n.(type) {
	case *types.Composite:
		if n == nil {
			v.add(path, types.ViolationStructural, "rule node must not be null")
			return
		}
		v.composite(n, path)
	case *types.Leaf:
		if n == nil {
			v.add(path, types.ViolationStructural, "rule node must not be null")
			return
		}
		v.leaf(n, path)
	case nil:
		v.add(path, types.ViolationStructural, "rule node must not be null")
	default:
		v.add(path, types.ViolationStructural, "unsupported rule node type %T", n)
	}
}

func (v *validator) composite(c *types.Composite, path string) {
	switch c.Condition {
	case types.ConditionAnd, types.ConditionOr:
	case "":
		v.add(path+".condition", types.ViolationStructural, "condition is required (AND or OR)")
	default:
		v.add(path+".condition", types.ViolationStructural, "condition must be AND or OR, got %q", c.Condition)
	}

	if len(c.Rules) == 0 {
		v.add(path+".rules", types.ViolationStructural, "rules must be a non-empty sequence")
		return
	}
	for i, child := range c.Rules {
		v.node(child, fmt.Sprintf("%s.rules[%d]", path, i))
	}
}

func (v *validator) leaf(l *types.Leaf, path string) {
	missing := false
	if l.Field == "" {
		v.add(path+".field", types.ViolationStructural, "field is required")
		missing = true
	}
	if l.Operator == "" {
		v.add(path+".operator", types.ViolationStructural, "operator is required")
		missing = true
	}
	if l.Value == nil {
		v.add(path+".value", types.ViolationStructural, "value is required")
		missing = true
	}

	if l.Field == "" {
		return
	}
	d, spec, err := lookup(l.Field, l.Operator)
	switch {
	case errors.Is(err, types.ErrUnknownField):
		v.add(path+".field", types.ViolationUnknownField, "unknown field %q", l.Field)
		return
	case l.Operator == "":
		return
	case errors.Is(err, types.ErrInvalidOperator):
		if _, known := operators[l.Operator]; !known {
			v.add(path+".operator", types.ViolationUnsupportedOperator, "unknown operator %q", l.Operator)
		} else {
			v.add(path+".operator", types.ViolationUnsupportedOperator,
				"operator %q does not apply to %s field %q (allowed: %s)",
				l.Operator, d.ValueType, d.Name, joinOperators(d.AllowedOperators))
		}
		return
	}

	if missing {
		return
	}
	if _, err := spec.coerce(l.Value, d.ValueType); err != nil {
		v.add(path+".value", types.ViolationValueType, "%s", coercionReason(err))
	}
}

// coercionReason strips the sentinel prefix from coercion errors.
func coercionReason(err error) string {
	msg := err.Error()
	prefix := types.ErrCoercionFailed.Error() + ": "
	return strings.TrimPrefix(msg, prefix)
}

func joinOperators(ops []types.OperatorID) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = string(op)
	}
	return strings.Join(parts, ", ")
}
