// internal/predicate/cost.go
package predicate

/*
 * Cost model for predicate evaluation.
 *
 * The compiler stably orders And/Or terms by ascending cost so cheap numeric
 * and date comparisons short-circuit before pattern matches. Ordering never
 * changes the result; it only changes how much work a non-matching record
 * costs.
 *
 * Cost formula: operator_cost * type_multiplier, summed over combinator terms.
 */

const (
	// Operator base costs
	CostEq          = 5
	CostCompare     = 7
	CostContainsAll = 8
	CostMatch       = 10

	// Value type multipliers
	MultiplierNumber = 4
	MultiplierDate   = 4
	MultiplierString = 48
)

// Cost computes the evaluation cost of p.
func Cost(p Predicate) int {
	switch p := p.(type) {
	case Compare:
		base := CostCompare
		if p.Op == Eq || p.Op == Ne {
			base = CostEq
		}
		return base * valueMultiplier(p.Value)
	case Match:
		return CostMatch * MultiplierString
	case ContainsAll:
		return CostContainsAll * MultiplierString * max(1, len(p.Values))
	case And:
		return sumCost(p.Terms)
	case Or:
		return sumCost(p.Terms)
	default:
		return 0
	}
}

func sumCost(terms []Predicate) int {
	total := 0
	for _, t := range terms {
		total += Cost(t)
	}
	return total
}

func valueMultiplier(v any) int {
	switch v.(type) {
	case float64:
		return MultiplierNumber
	case string:
		return MultiplierString
	default:
		return MultiplierDate
	}
}
