package gatekeep

// Policy reorders the candidate list for a request. The default policy
// preserves the preferred → fallback → remaining order; the policy
// subpackage provides alternatives.
type Policy interface {
	// Order returns the candidates in the order they should be tried.
	Order(candidates []Candidate) []Candidate
}

// fixedOrderPolicy keeps the built candidate order unchanged.
type fixedOrderPolicy struct{}

func (fixedOrderPolicy) Order(candidates []Candidate) []Candidate {
	return candidates
}
