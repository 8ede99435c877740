// Package predicate defines the compiled, store-agnostic form of an audience
// filter: a boolean expression tree over primitive field comparisons.
//
// Predicates have no dependency on the rule tree they were compiled from.
// Stores either evaluate them directly (Prepare) or translate them into their
// own query language (see internal/core/db).
package predicate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Predicate is one of Compare, Match, ContainsAll, And, Or.
type Predicate interface {
	isPredicate()
}

// CompareOp is a primitive ordering/equality comparison.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Gt
	Gte
	Lt
	Lte
)

var compareOpSymbols = [...]string{Eq: "==", Ne: "!=", Gt: ">", Gte: ">=", Lt: "<", Lte: "<="}

func (op CompareOp) String() string {
	if int(op) < 0 || int(op) >= len(compareOpSymbols) {
		return fmt.Sprintf("CompareOp(%d)", int(op))
	}
	return compareOpSymbols[op]
}

// Anchor selects where a Match literal must occur.
type Anchor int

const (
	AnchorNone Anchor = iota // substring
	AnchorStart
	AnchorEnd
)

// Compare tests Field Op Value.
// Value is float64, time.Time or string.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

// Match is a case-insensitive literal pattern test.
// Pattern is the regular expression form with Literal escaped;
// Literal is kept for backends with their own pattern syntax.
type Match struct {
	Field   string
	Literal string
	Pattern string
	Anchor  Anchor
}

// ContainsAll tests that a string-array field holds every value.
type ContainsAll struct {
	Field  string
	Values []string
}

// And is true when every term is true.
type And struct {
	Terms []Predicate
}

// Or is true when any term is true.
type Or struct {
	Terms []Predicate
}

func (Compare) isPredicate()     {}
func (Match) isPredicate()       {}
func (ContainsAll) isPredicate() {}
func (And) isPredicate()         {}
func (Or) isPredicate()          {}

// NewMatch builds a Match whose Pattern treats literal as plain text.
func NewMatch(field, literal string, anchor Anchor) Match {
	var b strings.Builder
	b.WriteString("(?i)")
	if anchor == AnchorStart {
		b.WriteString("^")
	}
	b.WriteString(regexp.QuoteMeta(literal))
	if anchor == AnchorEnd {
		b.WriteString("$")
	}
	return Match{Field: field, Literal: literal, Pattern: b.String(), Anchor: anchor}
}

// Format renders a predicate as a human-readable expression.
func Format(p Predicate) string {
	switch p := p.(type) {
	case Compare:
		return fmt.Sprintf("%s %s %s", p.Field, p.Op, formatValue(p.Value))
	case Match:
		return fmt.Sprintf("%s =~ /%s/", p.Field, p.Pattern)
	case ContainsAll:
		return fmt.Sprintf("%s ⊇ [%s]", p.Field, strings.Join(p.Values, ", "))
	case And:
		return joinTerms(p.Terms, " AND ")
	case Or:
		return joinTerms(p.Terms, " OR ")
	default:
		return fmt.Sprintf("<unknown %T>", p)
	}
}

func joinTerms(terms []Predicate, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = Format(t)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func formatValue(v any) string {
	switch v := v.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}
