package crawling

import "github.com/jonathan/web2pdf/internal/types"

// ApplyBudget returns the first budget links in discovery order. A non-positive budget selects
// the default budget and values above the hard limit are clamped. The input is not modified
// and applying the same budget to the result returns it unchanged.
func ApplyBudget(links []string, budget int) []string {
	limit := EffectiveBudget(budget)
	if len(links) < limit {
		limit = len(links)
	}
	out := make([]string, limit)
	copy(out, links[:limit])
	return out
}

// EffectiveBudget normalizes a requested subpage budget.
func EffectiveBudget(budget int) int {
	switch {
	case budget <= 0:
		return types.DefaultMaxSubpages
	case budget > types.MaxSubpagesLimit:
		return types.MaxSubpagesLimit
	default:
		return budget
	}
}
