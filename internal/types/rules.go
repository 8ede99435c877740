// internal/types/rules.go
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

/*
 * Rule tree model for audience segmentation.
 *
 * A rule tree is a tagged union: every node is either a *Leaf (one
 * field/operator/value condition) or a *Composite (AND/OR over child nodes).
 * The set of node kinds is closed by the unexported isNode method, so the
 * validator and compiler can switch exhaustively and a new kind cannot slip
 * past them.
 *
 * Key types:
 *   - Node: sealed interface implemented by *Leaf and *Composite
 *   - Leaf: condition on one customer field
 *   - Composite: boolean combination of child nodes (order irrelevant)
 *
 * Wire form: {"field","operator","value"} or {"condition","rules"}.
 * DecodeRuleTree is lenient about missing members so the validator can
 * report every structural problem with a path in one pass.
 */

// OperatorID identifies a rule operator as it appears on the wire.
type OperatorID string

const (
	OpGt            OperatorID = ">"
	OpGte           OperatorID = ">="
	OpLt            OperatorID = "<"
	OpLte           OperatorID = "<="
	OpEq            OperatorID = "=="
	OpNeq           OperatorID = "!="
	OpContains      OperatorID = "contains"
	OpStartsWith    OperatorID = "starts_with"
	OpEndsWith      OperatorID = "ends_with"
	OpInLastDays    OperatorID = "in_last_days"
	OpOlderThanDays OperatorID = "older_than_days"
	OpHasAll        OperatorID = "has_all"
)

// Condition is the boolean combinator of a composite node.
type Condition string

const (
	ConditionAnd Condition = "AND"
	ConditionOr  Condition = "OR"
)

// Node is a rule tree node: *Leaf or *Composite.
type Node interface {
	isNode()
}

// Leaf is a single field/operator/value condition.
// A nil Value means the value member was absent or null.
type Leaf struct {
	Field    string     `json:"field"`
	Operator OperatorID `json:"operator"`
	Value    any        `json:"value"`
}

// Composite combines child nodes with AND or OR.
type Composite struct {
	Condition Condition `json:"condition"`
	Rules     []Node    `json:"rules"`
}

func (*Leaf) isNode()      {}
func (*Composite) isNode() {}

// NewLeaf builds a leaf node.
func NewLeaf(field string, op OperatorID, value any) *Leaf {
	return &Leaf{Field: field, Operator: op, Value: value}
}

// AllOf builds an AND composite.
func AllOf(rules ...Node) *Composite {
	return &Composite{Condition: ConditionAnd, Rules: rules}
}

// AnyOf builds an OR composite.
func AnyOf(rules ...Node) *Composite {
	return &Composite{Condition: ConditionOr, Rules: rules}
}

// DecodeRuleTree parses the JSON wire form of a rule tree.
// Numbers are kept as json.Number so integral day counts survive exactly.
// Returns a *ValidationError listing every position where a JSON object was
// expected but something else was found, or a single $ violation when the
// input is not exactly one JSON value; all other problems are left for the
// validator.
func DecodeRuleTree(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Violations: []Violation{{
			Path:   "$",
			Kind:   ViolationStructural,
			Reason: fmt.Sprintf("malformed JSON: %v", err),
		}}}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Violations: []Violation{{
			Path:   "$",
			Kind:   ViolationStructural,
			Reason: "unexpected data after the rule tree",
		}}}
	}

	return DecodeRuleValue(raw)
}

// DecodeRuleValue converts an already-parsed JSON value (maps, slices and
// scalars as produced by encoding/json) into a rule tree.
func DecodeRuleValue(raw any) (Node, error) {
	var violations []Violation
	node := decodeNode(raw, "$", &violations)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return node, nil
}

// decodeNode converts one JSON value into a Node, recording a structural
// violation when the value is not an object.
func decodeNode(raw any, path string, violations *[]Violation) Node {
	obj, ok := raw.(map[string]any)
	if !ok {
		*violations = append(*violations, Violation{
			Path:   path,
			Kind:   ViolationStructural,
			Reason: "rule node must be an object",
		})
		return nil
	}

	_, hasCondition := obj["condition"]
	_, hasRules := obj["rules"]
	if hasCondition || hasRules {
		c := &Composite{Condition: Condition(stringMember(obj, "condition"))}
		// Non-array rules decode as nil; the validator reports the empty sequence.
		if children, ok := obj["rules"].([]any); ok {
			c.Rules = make([]Node, 0, len(children))
			for i, child := range children {
				c.Rules = append(c.Rules, decodeNode(child, fmt.Sprintf("%s.rules[%d]", path, i), violations))
			}
		}
		return c
	}

	return &Leaf{
		Field:    stringMember(obj, "field"),
		Operator: OperatorID(stringMember(obj, "operator")),
		Value:    obj["value"],
	}
}

// stringMember returns a string member, rendering non-string scalars as text
// so the validator reports them as unknown rather than missing.
func stringMember(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// EncodeRuleTree renders a rule tree in its JSON wire form.
func EncodeRuleTree(node Node) ([]byte, error) {
	if node == nil {
		return nil, fmt.Errorf("encode rule tree: %w", ErrInvalidRuleTree)
	}
	return json.Marshal(node)
}
