// Package policy provides candidate-ordering policies for the orchestrator.
package policy

import (
	"sort"

	"github.com/relayops/gatekeep"
)

// HealthFirst orders candidates by recent breaker failure rate ascending,
// keeping the preferred candidate in front. Ties preserve the built order.
type HealthFirst struct{}

var _ gatekeep.Policy = (*HealthFirst)(nil)

// Order sorts candidates by failure rate, preferred first.
func (HealthFirst) Order(candidates []gatekeep.Candidate) []gatekeep.Candidate {
	result := make([]gatekeep.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]
		if ci.Preferred != cj.Preferred {
			return ci.Preferred
		}
		return ci.FailureRate < cj.FailureRate
	})

	return result
}
