package gatekeep

import (
	"context"
	"time"
)

// Provider is the interface that analysis provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "mock").
	Name() string

	// Analyze performs one unit of remote analysis work.
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)

	// ValidateCredentials verifies the configured credentials without
	// performing billable work.
	ValidateCredentials(ctx context.Context) error

	// ProbeHealth issues a lightweight liveness probe.
	ProbeHealth(ctx context.Context) ProbeResult

	// EstimateUnits estimates the resource units a request will consume.
	EstimateUnits(req AnalysisRequest) int64

	// EstimateCost estimates the dollar cost of the given units.
	EstimateCost(units int64) float64
}

// Auth holds authentication credentials for a provider.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProbeResult is the outcome of a single health probe.
type ProbeResult struct {
	Healthy bool
	Latency time.Duration
	Err     error
}
