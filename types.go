package gatekeep

// AnalysisRequest is one unit of content submitted for analysis.
type AnalysisRequest struct {
	// ContentID identifies the content being analyzed. Optional.
	ContentID string `json:"content_id,omitempty"`

	// Content is the text to analyze.
	Content string `json:"content"`

	// ContentType hints at the kind of content (e.g. "article", "transcript").
	ContentType string `json:"content_type,omitempty"`

	// PreferredProvider, when set, is tried first if it is registered
	// and healthy.
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// Priority orders deferred work when the request has to be queued.
	// Higher values are dequeued first.
	Priority int `json:"priority,omitempty"`
}

// AnalysisResult is the outcome of a successful provider call.
type AnalysisResult struct {
	ID       string    `json:"id"`
	Provider string    `json:"provider"`
	Model    string    `json:"model,omitempty"`
	Score    float64   `json:"score"`
	Summary  string    `json:"summary,omitempty"`
	Findings []Finding `json:"findings,omitempty"`
	Usage    Usage     `json:"usage"`
	Routing  RoutingInfo
}

// Finding is a single issue flagged by the analysis.
type Finding struct {
	Category   string  `json:"category"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
}

// Usage reports the resource units consumed by one provider call.
type Usage struct {
	InputUnits  int64 `json:"input_units"`
	OutputUnits int64 `json:"output_units"`
	TotalUnits  int64 `json:"total_units"`
}

// RoutingInfo describes which provider served the request and how many
// candidates were tried before it.
type RoutingInfo struct {
	Provider  string
	Attempts  int
	Failovers int
}
