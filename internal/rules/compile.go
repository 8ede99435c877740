// internal/rules/compile.go
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Rule tree compilation.
 *
 * Translates a validated rule tree into a predicate.Predicate:
 *   - Composite AND/OR -> predicate.And/Or of compiled children
 *   - ordering leaf -> predicate.Compare against the coerced operand
 *   - contains/starts_with/ends_with -> predicate.Match, literal escaped
 *   - in_last_days/older_than_days -> predicate.Compare against now - N days
 *   - has_all -> predicate.ContainsAll over normalized tags
 *
 * Precondition: the tree passed Validate. Compile does not report
 * violations; it returns an error only when it meets a state validation
 * would have rejected.
 *
 * "now" is supplied by the caller and captured once per evaluation so
 * every relative date leaf in one preview uses the same instant.
 *
 * Why stable sort: combinator terms are ordered by ascending cost, and terms
 * with equal cost keep their original order, so the same tree and the same
 * "now" always produce structurally identical predicates.
 */

// Compile translates a validated rule tree into a predicate.
func Compile(node types.Node, now time.Time) (predicate.Predicate, error) {
	switch n := node.(type) {
	case *types.Composite:
		if n == nil || len(n.Rules) == 0 {
			return nil, fmt.Errorf("compile: empty composite: %w", types.ErrInvalidRuleTree)
		}
		return compileComposite(n, now)
	case *types.Leaf:
		if n == nil {
			return nil, fmt.Errorf("compile: nil leaf: %w", types.ErrInvalidRuleTree)
		}
		return compileLeaf(n, now)
	default:
		return nil, fmt.Errorf("compile: unsupported node type %T: %w", node, types.ErrInvalidRuleTree)
	}
}

// compileComposite compiles children and orders them by ascending cost.
func compileComposite(c *types.Composite, now time.Time) (predicate.Predicate, error) {
	terms := make([]predicate.Predicate, 0, len(c.Rules))
	for _, child := range c.Rules {
		p, err := Compile(child, now)
		if err != nil {
			return nil, err
		}
		terms = append(terms, p)
	}

	// Stable sort: equal-cost terms maintain original order (deterministic output)
	sort.SliceStable(terms, func(i, j int) bool {
		return predicate.Cost(terms[i]) < predicate.Cost(terms[j])
	})

	switch c.Condition {
	case types.ConditionAnd:
		return predicate.And{Terms: terms}, nil
	case types.ConditionOr:
		return predicate.Or{Terms: terms}, nil
	default:
		return nil, fmt.Errorf("compile: condition %q: %w", c.Condition, types.ErrInvalidRuleTree)
	}
}

// compileLeaf coerces the leaf operand and applies the operator's compile step.
func compileLeaf(l *types.Leaf, now time.Time) (predicate.Predicate, error) {
	d, spec, err := lookup(l.Field, l.Operator)
	if err != nil {
		return nil, fmt.Errorf("compile %s %s: %w", l.Field, l.Operator, err)
	}
	operand, err := spec.coerce(l.Value, d.ValueType)
	if err != nil {
		return nil, fmt.Errorf("compile %s %s: %w", l.Field, l.Operator, err)
	}
	return spec.compile(d.Name, operand, now), nil
}
