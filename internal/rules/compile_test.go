// internal/rules/compile_test.go
package rules

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := fixedNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func mustCompile(t *testing.T, node types.Node) predicate.Predicate {
	t.Helper()
	if result := Validate(node); !result.Valid {
		t.Fatalf("Validate() = invalid %v, want valid", result.Violations)
	}
	p, err := Compile(node, fixedNow)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	return p
}

func mustEval(t *testing.T, p predicate.Predicate, c *types.Customer) bool {
	t.Helper()
	ok, err := predicate.Eval(p, c)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	return ok
}

func TestCompile_NumericOperators(t *testing.T) {
	tests := []struct {
		op    types.OperatorID
		spend float64
		want  bool
	}{
		{types.OpGt, 100, false},
		{types.OpGt, 100.01, true},
		{types.OpGte, 100, true},
		{types.OpGte, 99.99, false},
		{types.OpLt, 99.99, true},
		{types.OpLt, 100, false},
		{types.OpLte, 100, true},
		{types.OpLte, 100.5, false},
		{types.OpEq, 100, true},
		{types.OpEq, 101, false},
		{types.OpNeq, 101, true},
		{types.OpNeq, 100, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.op, tt.spend), func(t *testing.T) {
			p := mustCompile(t, types.NewLeaf("totalSpend", tt.op, 100))
			got := mustEval(t, p, &types.Customer{TotalSpend: tt.spend})
			if got != tt.want {
				t.Errorf("totalSpend %s 100 on %v = %v, want %v", tt.op, tt.spend, got, tt.want)
			}
		})
	}
}

func TestCompile_PatternOperators(t *testing.T) {
	tests := []struct {
		name  string
		op    types.OperatorID
		value string
		email string
		want  bool
	}{
		{"starts_with prefix", types.OpStartsWith, "foo", "foo@example.com", true},
		{"starts_with case-insensitive", types.OpStartsWith, "foo", "FOObar@example.com", true},
		{"starts_with not elsewhere", types.OpStartsWith, "foo", "barfoo@example.com", false},
		{"contains anywhere", types.OpContains, "foo", "barfoo@example.com", true},
		{"contains absent", types.OpContains, "foo", "bar@example.com", false},
		{"ends_with suffix", types.OpEndsWith, "@example.com", "a@EXAMPLE.com", true},
		{"ends_with not prefix", types.OpEndsWith, "@example.com", "a@example.com.au", false},
		{"metacharacters literal", types.OpContains, "a.b", "axb@example.com", false},
		{"metacharacters match", types.OpContains, "a.b", "a.b@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustCompile(t, types.NewLeaf("email", tt.op, tt.value))
			if _, ok := p.(predicate.Match); !ok {
				t.Fatalf("Compile() = %T, want predicate.Match", p)
			}
			got := mustEval(t, p, &types.Customer{Email: tt.email})
			if got != tt.want {
				t.Errorf("email %s %q on %q = %v, want %v", tt.op, tt.value, tt.email, got, tt.want)
			}
		})
	}
}

func TestCompile_RelativeDatesAreComplementary(t *testing.T) {
	inLast := mustCompile(t, types.NewLeaf("lastOrderDate", types.OpInLastDays, 30))
	olderThan := mustCompile(t, types.NewLeaf("lastOrderDate", types.OpOlderThanDays, 30))

	tests := []struct {
		name      string
		daysAgo   int
		wantIn    bool
		wantOlder bool
	}{
		{"29 days ago", 29, true, false},
		{"31 days ago", 31, false, true},
		{"today", 0, true, false},
		{"a year ago", 365, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &types.Customer{LastOrderDate: daysAgo(tt.daysAgo)}
			if got := mustEval(t, inLast, c); got != tt.wantIn {
				t.Errorf("in_last_days(30) = %v, want %v", got, tt.wantIn)
			}
			if got := mustEval(t, olderThan, c); got != tt.wantOlder {
				t.Errorf("older_than_days(30) = %v, want %v", got, tt.wantOlder)
			}
		})
	}

	// A customer without orders matches neither.
	never := &types.Customer{}
	if mustEval(t, inLast, never) || mustEval(t, olderThan, never) {
		t.Error("customer without lastOrderDate matched a relative date rule")
	}
}

func TestCompile_DayWindowBoundIsMillisecondAligned(t *testing.T) {
	now := fixedNow.Add(500 * time.Microsecond)
	want := fixedNow.Add(-30 * 24 * time.Hour)

	for _, op := range []types.OperatorID{types.OpInLastDays, types.OpOlderThanDays} {
		p, err := Compile(types.NewLeaf("lastOrderDate", op, 30), now)
		if err != nil {
			t.Fatalf("Compile(%s) error = %v", op, err)
		}
		cmp, ok := p.(predicate.Compare)
		if !ok {
			t.Fatalf("Compile(%s) = %T, want predicate.Compare", op, p)
		}
		if bound := cmp.Value.(time.Time); !bound.Equal(want) {
			t.Errorf("Compile(%s) bound = %v, want %v", op, bound, want)
		}
	}

	edge := &types.Customer{LastOrderDate: &want}
	inLast, _ := Compile(types.NewLeaf("lastOrderDate", types.OpInLastDays, 30), now)
	if !mustEval(t, inLast, edge) {
		t.Error("in_last_days(30) excluded a record exactly on the bound")
	}
}

func TestCompile_AndOrCombinators(t *testing.T) {
	customers := []*types.Customer{
		{ID: "c1", TotalSpend: 15000, LastOrderDate: daysAgo(90)},
		{ID: "c2", TotalSpend: 5000, LastOrderDate: daysAgo(5)},
		{ID: "c3", TotalSpend: 12000, LastOrderDate: daysAgo(200)},
		{ID: "c4", TotalSpend: 11000, LastOrderDate: daysAgo(10)},
	}
	spend := types.NewLeaf("totalSpend", types.OpGt, 10000)
	recent := types.NewLeaf("lastOrderDate", types.OpInLastDays, 30)

	tests := []struct {
		name string
		node types.Node
		want []types.CustomerID
	}{
		{"AND is intersection", types.AllOf(spend, recent), []types.CustomerID{"c4"}},
		{"OR is union", types.AnyOf(spend, recent), []types.CustomerID{"c1", "c2", "c3", "c4"}},
		{"single child AND", types.AllOf(spend), []types.CustomerID{"c1", "c3", "c4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustCompile(t, tt.node)
			var got []types.CustomerID
			for _, c := range customers {
				if mustEval(t, p, c) {
					got = append(got, c.ID)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("matched %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompile_TagsAndOrdering(t *testing.T) {
	node := types.AllOf(
		types.NewLeaf("name", types.OpContains, "smith"),
		types.NewLeaf("tags", types.OpHasAll, []any{"vip", " gold ", "vip"}),
		types.NewLeaf("visitCount", types.OpGte, 3),
	)
	p := mustCompile(t, node)

	and, ok := p.(predicate.And)
	if !ok {
		t.Fatalf("Compile() = %T, want predicate.And", p)
	}
	if len(and.Terms) != 3 {
		t.Fatalf("len(Terms) = %d, want 3", len(and.Terms))
	}
	// Cheapest first: numeric compare, then pattern, then tag set.
	if _, ok := and.Terms[0].(predicate.Compare); !ok {
		t.Errorf("Terms[0] = %T, want predicate.Compare", and.Terms[0])
	}
	tags, ok := and.Terms[2].(predicate.ContainsAll)
	if !ok {
		t.Fatalf("Terms[2] = %T, want predicate.ContainsAll", and.Terms[2])
	}
	if !reflect.DeepEqual(tags.Values, []string{"vip", "gold"}) {
		t.Errorf("ContainsAll.Values = %v, want [vip gold]", tags.Values)
	}

	match := &types.Customer{Name: "Jane Smith", VisitCount: 4, Tags: []string{"gold", "new", "vip"}}
	if !mustEval(t, p, match) {
		t.Error("customer with every tag did not match")
	}
	partial := &types.Customer{Name: "Jane Smith", VisitCount: 4, Tags: []string{"vip"}}
	if mustEval(t, p, partial) {
		t.Error("customer missing a tag matched has_all")
	}
}

func TestCompile_RejectsInvalidTree(t *testing.T) {
	tests := []struct {
		name string
		node types.Node
	}{
		{"nil node", nil},
		{"empty composite", &types.Composite{Condition: types.ConditionAnd}},
		{"unknown field", types.NewLeaf("shoeSize", types.OpGt, 10)},
		{"bad value", types.NewLeaf("visitCount", types.OpGt, "many")},
		{"bad condition", &types.Composite{Condition: "XOR", Rules: []types.Node{types.NewLeaf("visitCount", types.OpGt, 1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.node, fixedNow)
			if err == nil {
				t.Fatal("Compile() error = nil, want error")
			}
			if !errors.Is(err, types.ErrInvalidRuleTree) && !errors.Is(err, types.ErrUnknownField) &&
				!errors.Is(err, types.ErrCoercionFailed) {
				t.Errorf("Compile() error = %v, want a rule tree error", err)
			}
		})
	}
}

// Property-based test: compiling the same tree at the same instant is deterministic
func TestCompile_PropertyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ops := []types.OperatorID{types.OpGt, types.OpGte, types.OpLt, types.OpLte, types.OpEq, types.OpNeq}

	properties.Property("compile twice yields identical predicates", prop.ForAll(
		func(opIdx int, spend int, days int, prefix string, useOr bool) bool {
			children := []types.Node{
				types.NewLeaf("name", types.OpStartsWith, "x"+prefix),
				types.NewLeaf("totalSpend", ops[opIdx], spend),
				types.NewLeaf("lastOrderDate", types.OpInLastDays, days),
			}
			var node types.Node = types.AllOf(children...)
			if useOr {
				node = types.AnyOf(children...)
			}

			first, err := Compile(node, fixedNow)
			if err != nil {
				return false
			}
			second, err := Compile(node, fixedNow)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(first, second)
		},
		gen.IntRange(0, len(ops)-1),
		gen.IntRange(-100000, 100000),
		gen.IntRange(0, types.MaxDayWindow),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: in_last_days and older_than_days partition every dated record
func TestCompile_PropertyRelativeDatesPartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one of in_last_days(N) and older_than_days(N) holds", prop.ForAll(
		func(window int, ageHours int) bool {
			inLast, err := Compile(types.NewLeaf("lastOrderDate", types.OpInLastDays, window), fixedNow)
			if err != nil {
				return false
			}
			olderThan, err := Compile(types.NewLeaf("lastOrderDate", types.OpOlderThanDays, window), fixedNow)
			if err != nil {
				return false
			}

			ordered := fixedNow.Add(-time.Duration(ageHours) * time.Hour)
			c := &types.Customer{LastOrderDate: &ordered}
			a, _ := predicate.Eval(inLast, c)
			b, _ := predicate.Eval(olderThan, c)
			return a != b
		},
		gen.IntRange(0, 3650),
		gen.IntRange(0, 24*4000),
	))

	properties.TestingRun(t)
}
