package gatekeep

// Candidate represents one possible provider for a request.
type Candidate struct {
	Provider       Provider
	Preferred      bool
	EstimatedUnits int64
	EstimatedCost  float64
	FailureRate    float64 // breaker sliding-window failure rate
}

// buildCandidates assembles the ordered candidate list: the preferred
// provider first (when registered and healthy), then the configured
// fallback order, then any remaining registered providers. Unhealthy
// providers are excluded entirely.
func buildCandidates(
	req AnalysisRequest,
	registry *Registry,
	health *HealthChecker,
	fallbackOrder []string,
	failureRate func(provider string) float64,
) []Candidate {
	seen := make(map[string]bool)
	var candidates []Candidate

	add := func(name string, preferred bool) {
		if seen[name] {
			return
		}
		p, ok := registry.Get(name)
		if !ok || !health.IsHealthy(name) {
			return
		}
		seen[name] = true

		units := p.EstimateUnits(req)
		candidates = append(candidates, Candidate{
			Provider:       p,
			Preferred:      preferred,
			EstimatedUnits: units,
			EstimatedCost:  p.EstimateCost(units),
			FailureRate:    failureRate(name),
		})
	}

	if req.PreferredProvider != "" {
		add(req.PreferredProvider, true)
	}
	for _, name := range fallbackOrder {
		add(name, false)
	}
	for _, p := range registry.List() {
		add(p.Name(), false)
	}

	return candidates
}
