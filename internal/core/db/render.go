package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Predicate -> SQL translation for the customers table (alias c).
 *
 *   Compare      -> c.col <op> ?          (Ne: c.col IS NULL OR c.col <> ?)
 *   Match        -> LOWER(c.col) LIKE ? ESCAPE '\'
 *   ContainsAll  -> count of matching customer_tags rows = number of values
 *   And / Or     -> parenthesized conjunction / disjunction
 *
 * LOWER folds Unicode on both engines: SQLite connections get a Go lower()
 * from the driver registered in db.go.
 * NULL columns fail every comparison except Ne, matching predicate.Prepare.
 * Dates are compared as unix milliseconds. Every literal is a bound
 * parameter; placeholders are ? and rebound by the caller.
 */

type columnKind int

const (
	kindText columnKind = iota
	kindNumber
	kindMillis
	kindTags
)

type column struct {
	name string
	kind columnKind
}

var customerColumns = map[string]column{
	types.FieldOwner:         {"c.owner_id", kindText},
	types.FieldName:          {"c.name", kindText},
	types.FieldEmail:         {"c.email", kindText},
	types.FieldPhone:         {"c.phone", kindText},
	types.FieldExternalID:    {"c.external_id", kindText},
	types.FieldTotalSpend:    {"c.total_spend", kindNumber},
	types.FieldVisitCount:    {"c.visit_count", kindNumber},
	types.FieldLastOrderDate: {"c.last_order_date_ms", kindMillis},
	types.FieldCreatedAt:     {"c.created_at_ms", kindMillis},
	types.FieldTags:          {"", kindTags},
}

var sqlOps = map[predicate.CompareOp]string{
	predicate.Eq:  "=",
	predicate.Ne:  "<>",
	predicate.Gt:  ">",
	predicate.Gte: ">=",
	predicate.Lt:  "<",
	predicate.Lte: "<=",
}

// renderWhere translates p into a WHERE clause body and its arguments.
func renderWhere(p predicate.Predicate) (string, []any, error) {
	var r renderer
	if err := r.render(p); err != nil {
		return "", nil, err
	}
	return r.b.String(), r.args, nil
}

type renderer struct {
	b    strings.Builder
	args []any
}

func (r *renderer) render(p predicate.Predicate) error {
	switch p := p.(type) {
	case predicate.Compare:
		return r.compare(p)
	case predicate.Match:
		col, err := lookupColumn(p.Field, kindText)
		if err != nil {
			return err
		}
		fmt.Fprintf(&r.b, `LOWER(%s) LIKE ? ESCAPE '\'`, col.name)
		r.args = append(r.args, predicate.LikePattern(p))
		return nil
	case predicate.ContainsAll:
		if _, err := lookupColumn(p.Field, kindTags); err != nil {
			return err
		}
		if len(p.Values) == 0 {
			r.b.WriteString("1 = 1")
			return nil
		}
		r.b.WriteString("(SELECT COUNT(DISTINCT t.tag) FROM customer_tags t WHERE t.customer_id = c.customer_id AND t.tag IN (")
		for i, v := range p.Values {
			if i > 0 {
				r.b.WriteString(", ")
			}
			r.b.WriteString("?")
			r.args = append(r.args, v)
		}
		fmt.Fprintf(&r.b, ")) = %d", distinctCount(p.Values))
		return nil
	case predicate.And:
		return r.combine(p.Terms, " AND ", "1 = 1")
	case predicate.Or:
		return r.combine(p.Terms, " OR ", "1 = 0")
	default:
		return fmt.Errorf("render predicate: unsupported type %T", p)
	}
}

func (r *renderer) compare(p predicate.Compare) error {
	col, ok := customerColumns[p.Field]
	if !ok || col.kind == kindTags {
		return fmt.Errorf("render predicate: no column for field %q", p.Field)
	}
	op, ok := sqlOps[p.Op]
	if !ok {
		return fmt.Errorf("render predicate: unsupported comparison %v", p.Op)
	}
	arg, err := compareArg(col, p.Value)
	if err != nil {
		return fmt.Errorf("render predicate %s: %w", p.Field, err)
	}

	if p.Op == predicate.Ne {
		fmt.Fprintf(&r.b, "(%s IS NULL OR %s <> ?)", col.name, col.name)
	} else {
		fmt.Fprintf(&r.b, "%s %s ?", col.name, op)
	}
	r.args = append(r.args, arg)
	return nil
}

func (r *renderer) combine(terms []predicate.Predicate, sep, empty string) error {
	if len(terms) == 0 {
		r.b.WriteString(empty)
		return nil
	}
	r.b.WriteString("(")
	for i, t := range terms {
		if i > 0 {
			r.b.WriteString(sep)
		}
		if err := r.render(t); err != nil {
			return err
		}
	}
	r.b.WriteString(")")
	return nil
}

func lookupColumn(field string, kind columnKind) (column, error) {
	col, ok := customerColumns[field]
	if !ok || col.kind != kind {
		return column{}, fmt.Errorf("render predicate: field %q does not support this test", field)
	}
	return col, nil
}

// compareArg converts a predicate operand to the column's storage form.
func compareArg(col column, v any) (any, error) {
	switch col.kind {
	case kindMillis:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time operand, got %T", v)
		}
		return toMillis(t), nil
	case kindNumber:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64 operand, got %T", v)
		}
		return f, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string operand, got %T", v)
		}
		return s, nil
	}
}

func distinctCount(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
