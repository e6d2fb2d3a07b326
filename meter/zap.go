package meter

import (
	"go.uber.org/zap"

	"github.com/relayops/gatekeep"
)

// ZapMeter logs orchestration events using zap, for deployments already on
// the zap stack.
type ZapMeter struct {
	Logger *zap.Logger
}

var _ gatekeep.Meter = (*ZapMeter)(nil)

// NewZapMeter creates a ZapMeter with the given logger.
// If logger is nil, zap.NewNop() is used.
func NewZapMeter(logger *zap.Logger) *ZapMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapMeter{Logger: logger}
}

func (m *ZapMeter) OnAttempt(e gatekeep.AttemptEvent) {
	m.Logger.Info("attempt",
		zap.String("provider", e.Provider),
		zap.Int("attempt", e.Attempt),
		zap.Bool("preferred", e.Preferred),
		zap.Int64("estimated_units", e.EstimatedUnits),
		zap.Bool("queued", e.Queued),
	)
}

func (m *ZapMeter) OnResult(e gatekeep.ResultEvent) {
	fields := []zap.Field{
		zap.String("provider", e.Provider),
		zap.Int("attempt", e.Attempt),
		zap.Duration("duration", e.Duration),
	}
	if e.Success {
		fields = append(fields,
			zap.Int64("input_units", e.Usage.InputUnits),
			zap.Int64("output_units", e.Usage.OutputUnits),
			zap.Float64("cost", e.Cost),
		)
		m.Logger.Info("result", fields...)
		return
	}
	fields = append(fields, zap.Error(e.Err))
	m.Logger.Warn("result_error", fields...)
}

func (m *ZapMeter) OnFailover(e gatekeep.FailoverEvent) {
	m.Logger.Warn("failover",
		zap.String("from", e.From),
		zap.String("to", e.To),
		zap.NamedError("reason", e.Reason),
	)
}
