package meter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/relayops/gatekeep"
)

// OTelMeter records orchestration events as OpenTelemetry metrics.
type OTelMeter struct {
	attempts     metric.Int64Counter
	failures     metric.Int64Counter
	failovers    metric.Int64Counter
	units        metric.Int64Counter
	cost         metric.Float64Counter
	durationHist metric.Float64Histogram
}

var _ gatekeep.Meter = (*OTelMeter)(nil)

// NewOTelMeter creates an OTelMeter on the given OpenTelemetry meter.
func NewOTelMeter(m metric.Meter) (*OTelMeter, error) {
	attempts, err := m.Int64Counter(
		"gatekeep.attempts.total",
		metric.WithDescription("Total number of provider call attempts"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := m.Int64Counter(
		"gatekeep.attempts.errors",
		metric.WithDescription("Total number of failed provider call attempts"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	failovers, err := m.Int64Counter(
		"gatekeep.failovers.total",
		metric.WithDescription("Total number of failovers between candidates"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return nil, err
	}

	units, err := m.Int64Counter(
		"gatekeep.usage.units",
		metric.WithDescription("Total resource units consumed"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	cost, err := m.Float64Counter(
		"gatekeep.usage.cost",
		metric.WithDescription("Total estimated cost"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := m.Float64Histogram(
		"gatekeep.attempt.duration_ms",
		metric.WithDescription("Provider call attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMeter{
		attempts:     attempts,
		failures:     failures,
		failovers:    failovers,
		units:        units,
		cost:         cost,
		durationHist: durationHist,
	}, nil
}

func (m *OTelMeter) OnAttempt(e gatekeep.AttemptEvent) {
	m.attempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", e.Provider),
		attribute.Bool("queued", e.Queued),
	))
}

func (m *OTelMeter) OnResult(e gatekeep.ResultEvent) {
	attrs := metric.WithAttributes(attribute.String("provider", e.Provider))

	m.durationHist.Record(context.Background(), float64(e.Duration.Milliseconds()), attrs)
	if !e.Success {
		m.failures.Add(context.Background(), 1, attrs)
		return
	}
	m.units.Add(context.Background(), e.Usage.TotalUnits, attrs)
	m.cost.Add(context.Background(), e.Cost, attrs)
}

func (m *OTelMeter) OnFailover(e gatekeep.FailoverEvent) {
	m.failovers.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", e.From),
		attribute.String("to", e.To),
	))
}
