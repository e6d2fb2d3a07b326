package policy

import (
	"sort"

	"github.com/relayops/gatekeep"
)

// CostFirst orders candidates by estimated cost ascending, keeping the
// preferred candidate in front. Ties preserve the built order.
type CostFirst struct{}

var _ gatekeep.Policy = (*CostFirst)(nil)

// Order sorts candidates by estimated cost, preferred first.
func (CostFirst) Order(candidates []gatekeep.Candidate) []gatekeep.Candidate {
	result := make([]gatekeep.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]
		if ci.Preferred != cj.Preferred {
			return ci.Preferred
		}
		return ci.EstimatedCost < cj.EstimatedCost
	})

	return result
}
