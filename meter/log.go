package meter

import (
	"log/slog"

	"github.com/relayops/gatekeep"
)

// LogMeter logs orchestration events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ gatekeep.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e gatekeep.AttemptEvent) {
	m.Logger.Info("attempt",
		"provider", e.Provider,
		"attempt", e.Attempt,
		"preferred", e.Preferred,
		"estimated_units", e.EstimatedUnits,
		"queued", e.Queued,
	)
}

func (m *LogMeter) OnResult(e gatekeep.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"provider", e.Provider,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"input_units", e.Usage.InputUnits,
			"output_units", e.Usage.OutputUnits,
			"cost", e.Cost,
		)
	} else {
		m.Logger.Warn("result_error",
			"provider", e.Provider,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}

func (m *LogMeter) OnFailover(e gatekeep.FailoverEvent) {
	m.Logger.Warn("failover",
		"from", e.From,
		"to", e.To,
		"reason", e.Reason,
	)
}
