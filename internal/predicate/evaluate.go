// internal/predicate/evaluate.go
package predicate

import (
	"fmt"
	"regexp"
	"strings"
)

/*
 * In-memory predicate evaluation.
 *
 * Prepare walks a predicate once, compiling Match patterns, and returns a
 * Matcher closure that can be applied to any number of records. Stores that
 * hold records in process (internal/core/memstore) and tests use it; SQL
 * stores translate predicates instead.
 *
 * Short-circuit semantics: And stops at the first false term, Or at the
 * first true term. Term order comes from the compiler's cost ordering.
 */

// Record exposes named field values. The boolean is false when the record
// has no value for the field.
type Record interface {
	Field(name string) (any, bool)
}

// Matcher reports whether a record satisfies a prepared predicate.
type Matcher func(rec Record) bool

// Prepare compiles p into a Matcher.
// Returns an error for unknown predicate types or invalid patterns.
func Prepare(p Predicate) (Matcher, error) {
	switch p := p.(type) {
	case Compare:
		return func(rec Record) bool {
			v, ok := rec.Field(p.Field)
			if !ok {
				return p.Op == Ne
			}
			return compare(p.Op, v, p.Value)
		}, nil

	case Match:
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %s: %w", p.Field, err)
		}
		return func(rec Record) bool {
			v, ok := rec.Field(p.Field)
			if !ok {
				return false
			}
			s, ok := v.(string)
			return ok && re.MatchString(s)
		}, nil

	case ContainsAll:
		return func(rec Record) bool {
			v, ok := rec.Field(p.Field)
			return ok && containsAll(v, p.Values)
		}, nil

	case And:
		terms, err := prepareTerms(p.Terms)
		if err != nil {
			return nil, err
		}
		return func(rec Record) bool {
			for _, t := range terms {
				if !t(rec) {
					return false
				}
			}
			return true
		}, nil

	case Or:
		terms, err := prepareTerms(p.Terms)
		if err != nil {
			return nil, err
		}
		return func(rec Record) bool {
			for _, t := range terms {
				if t(rec) {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("unsupported predicate type %T", p)
	}
}

func prepareTerms(terms []Predicate) ([]Matcher, error) {
	out := make([]Matcher, 0, len(terms))
	for _, t := range terms {
		m, err := Prepare(t)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Eval prepares p and applies it to a single record.
func Eval(p Predicate, rec Record) (bool, error) {
	m, err := Prepare(p)
	if err != nil {
		return false, err
	}
	return m(rec), nil
}

// Fields lists the distinct field names referenced by p, in first-seen order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		var field string
		switch p := p.(type) {
		case Compare:
			field = p.Field
		case Match:
			field = p.Field
		case ContainsAll:
			field = p.Field
		case And:
			for _, t := range p.Terms {
				walk(t)
			}
		case Or:
			for _, t := range p.Terms {
				walk(t)
			}
		}
		if field != "" && !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	}
	walk(p)
	return out
}

// likeEscaper escapes LIKE metacharacters using backslash as escape.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern renders a Match as a lower-cased LIKE pattern with backslash
// escaping, for SQL backends comparing against LOWER(column).
func LikePattern(m Match) string {
	lit := likeEscaper.Replace(strings.ToLower(m.Literal))
	switch m.Anchor {
	case AnchorStart:
		return lit + "%"
	case AnchorEnd:
		return "%" + lit
	default:
		return "%" + lit + "%"
	}
}
