// Package mock provides a configurable in-memory Provider for tests and
// examples.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relayops/gatekeep"
)

// Provider is a mock analysis provider.
type Provider struct {
	name        string
	latency     time.Duration
	failAfter   int
	staticErr   error
	probeErr    error
	costPerUnit float64
	score       float64
	callCount   atomic.Int64
	probeCount  atomic.Int64
	responseFn  func(gatekeep.AnalysisRequest) (gatekeep.AnalysisResult, error)
}

var _ gatekeep.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "mock",
		costPerUnit: 0.0001,
		score:       0.92,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithProbeError makes health probes fail with this error.
func WithProbeError(err error) Option {
	return func(p *Provider) { p.probeErr = err }
}

// WithCostPerUnit sets the per-unit cost used by EstimateCost.
func WithCostPerUnit(cost float64) Option {
	return func(p *Provider) { p.costPerUnit = cost }
}

// WithScore sets the analysis score returned by the mock.
func WithScore(score float64) Option {
	return func(p *Provider) { p.score = score }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(gatekeep.AnalysisRequest) (gatekeep.AnalysisResult, error)) Option {
	return func(p *Provider) { p.responseFn = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Analyze(ctx context.Context, req gatekeep.AnalysisRequest) (gatekeep.AnalysisResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return gatekeep.AnalysisResult{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return gatekeep.AnalysisResult{}, p.staticErr
	}
	if p.failAfter > 0 && int(count) > p.failAfter {
		return gatekeep.AnalysisResult{}, gatekeep.ErrProviderUnavailable
	}
	if p.responseFn != nil {
		return p.responseFn(req)
	}

	units := p.EstimateUnits(req)
	return gatekeep.AnalysisResult{
		ID:       uuid.New().String(),
		Provider: p.name,
		Model:    "mock-model",
		Score:    p.score,
		Summary:  "mock analysis",
		Usage: gatekeep.Usage{
			InputUnits:  units,
			OutputUnits: units / 4,
			TotalUnits:  units + units/4,
		},
	}, nil
}

func (p *Provider) ValidateCredentials(context.Context) error {
	return p.staticErr
}

func (p *Provider) ProbeHealth(ctx context.Context) gatekeep.ProbeResult {
	p.probeCount.Add(1)

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return gatekeep.ProbeResult{Healthy: false, Err: ctx.Err()}
		}
	}
	if p.probeErr != nil {
		return gatekeep.ProbeResult{Healthy: false, Latency: p.latency, Err: p.probeErr}
	}
	return gatekeep.ProbeResult{Healthy: true, Latency: p.latency}
}

func (p *Provider) EstimateUnits(req gatekeep.AnalysisRequest) int64 {
	units := int64(len(req.Content)) / 4
	if units < 1 {
		units = 1
	}
	return units
}

func (p *Provider) EstimateCost(units int64) float64 {
	return float64(units) * p.costPerUnit
}

// CallCount returns the number of Analyze calls made.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// ProbeCount returns the number of health probes made.
func (p *Provider) ProbeCount() int64 { return p.probeCount.Load() }
