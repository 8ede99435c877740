// internal/rules/registry.go
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Field/operator registry.
 *
 * Two read-only tables drive validation and compilation:
 *   - fields: customer field name -> value type
 *   - operators: operator id -> {value types it applies to, coercion, compilation}
 *
 * Adding an operator is a table entry, not a new branch in the validator or
 * compiler. Both tables are built at package init and never mutated, so
 * lookups are safe from any goroutine.
 */

// ValueType is the declared type of a customer field.
type ValueType int

const (
	ValueNumber ValueType = iota
	ValueString
	ValueDate
	ValueStringArray
)

func (t ValueType) String() string {
	switch t {
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueDate:
		return "date"
	case ValueStringArray:
		return "string_array"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// FieldDescriptor describes one filterable customer field.
type FieldDescriptor struct {
	Name             string
	ValueType        ValueType
	AllowedOperators []types.OperatorID
}

// Allows reports whether op may be applied to the field.
func (d FieldDescriptor) Allows(op types.OperatorID) bool {
	for _, allowed := range d.AllowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

// operatorSpec is the behavior of one operator.
type operatorSpec struct {
	appliesTo []ValueType
	// coerce converts a raw leaf value to the operand compile expects.
	coerce func(value any, vt ValueType) (any, error)
	// compile builds the predicate for a coerced operand.
	compile func(field string, operand any, now time.Time) predicate.Predicate
}

// operatorOrder fixes the listing order of AllowedOperators.
var operatorOrder = []types.OperatorID{
	types.OpGt, types.OpGte, types.OpLt, types.OpLte, types.OpEq, types.OpNeq,
	types.OpContains, types.OpStartsWith, types.OpEndsWith,
	types.OpInLastDays, types.OpOlderThanDays,
	types.OpHasAll,
}

var operators = map[types.OperatorID]operatorSpec{
	types.OpGt:  ordering(predicate.Gt),
	types.OpGte: ordering(predicate.Gte),
	types.OpLt:  ordering(predicate.Lt),
	types.OpLte: ordering(predicate.Lte),
	types.OpEq:  ordering(predicate.Eq),
	types.OpNeq: ordering(predicate.Ne),

	types.OpContains:   pattern(predicate.AnchorNone),
	types.OpStartsWith: pattern(predicate.AnchorStart),
	types.OpEndsWith:   pattern(predicate.AnchorEnd),

	// [now - N days, now]: a single lower bound
	types.OpInLastDays: dayWindow(predicate.Gte),
	// strictly before now - N days: a single upper bound
	types.OpOlderThanDays: dayWindow(predicate.Lt),

	types.OpHasAll: {
		appliesTo: []ValueType{ValueStringArray},
		coerce: func(value any, _ ValueType) (any, error) {
			return coerceTags(value)
		},
		compile: func(field string, operand any, _ time.Time) predicate.Predicate {
			return predicate.ContainsAll{Field: field, Values: operand.([]string)}
		},
	},
}

func ordering(op predicate.CompareOp) operatorSpec {
	return operatorSpec{
		appliesTo: []ValueType{ValueNumber, ValueDate},
		coerce: func(value any, vt ValueType) (any, error) {
			if vt == ValueDate {
				return coerceDate(value)
			}
			return coerceNumber(value)
		},
		compile: func(field string, operand any, _ time.Time) predicate.Predicate {
			return predicate.Compare{Field: field, Op: op, Value: operand}
		},
	}
}

func pattern(anchor predicate.Anchor) operatorSpec {
	return operatorSpec{
		appliesTo: []ValueType{ValueString},
		coerce: func(value any, _ ValueType) (any, error) {
			return coerceText(value)
		},
		compile: func(field string, operand any, _ time.Time) predicate.Predicate {
			return predicate.NewMatch(field, operand.(string), anchor)
		},
	}
}

func dayWindow(op predicate.CompareOp) operatorSpec {
	return operatorSpec{
		appliesTo: []ValueType{ValueDate},
		coerce: func(value any, _ ValueType) (any, error) {
			return coerceDays(value)
		},
		compile: func(field string, operand any, now time.Time) predicate.Predicate {
			bound := now.UTC().Truncate(types.TimePrecision).Add(-time.Duration(operand.(int)) * 24 * time.Hour)
			return predicate.Compare{Field: field, Op: op, Value: bound}
		},
	}
}

var fieldTypes = map[string]ValueType{
	types.FieldName:          ValueString,
	types.FieldEmail:         ValueString,
	types.FieldPhone:         ValueString,
	types.FieldExternalID:    ValueString,
	types.FieldTotalSpend:    ValueNumber,
	types.FieldVisitCount:    ValueNumber,
	types.FieldLastOrderDate: ValueDate,
	types.FieldCreatedAt:     ValueDate,
	types.FieldTags:          ValueStringArray,
}

// fields is the immutable catalogue built from fieldTypes and operators.
var fields = buildFields()

func buildFields() map[string]FieldDescriptor {
	out := make(map[string]FieldDescriptor, len(fieldTypes))
	for name, vt := range fieldTypes {
		out[name] = FieldDescriptor{Name: name, ValueType: vt, AllowedOperators: OperatorsFor(vt)}
	}
	return out
}

// OperatorsFor lists the operators applicable to a value type.
func OperatorsFor(vt ValueType) []types.OperatorID {
	var ops []types.OperatorID
	for _, id := range operatorOrder {
		for _, applies := range operators[id].appliesTo {
			if applies == vt {
				ops = append(ops, id)
				break
			}
		}
	}
	return ops
}

// LookupField returns the descriptor for a field name.
func LookupField(name string) (FieldDescriptor, bool) {
	d, ok := fields[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	d.AllowedOperators = append([]types.OperatorID(nil), d.AllowedOperators...)
	return d, true
}

// lookup resolves a field and operator pair.
// Returns ErrUnknownField or ErrInvalidOperator; these are surfaced by the
// validator as violations, never returned to API callers directly.
func lookup(field string, op types.OperatorID) (FieldDescriptor, operatorSpec, error) {
	d, ok := fields[field]
	if !ok {
		return FieldDescriptor{}, operatorSpec{}, types.ErrUnknownField
	}
	spec, ok := operators[op]
	if !ok || !d.Allows(op) {
		return d, operatorSpec{}, types.ErrInvalidOperator
	}
	return d, spec, nil
}

// Fields lists the catalogue ordered by field name.
func Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(fields))
	for name := range fields {
		d, _ := LookupField(name)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
