package meter

import "github.com/relayops/gatekeep"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ gatekeep.Meter = (*NoopMeter)(nil)

func (*NoopMeter) OnAttempt(gatekeep.AttemptEvent)   {}
func (*NoopMeter) OnResult(gatekeep.ResultEvent)     {}
func (*NoopMeter) OnFailover(gatekeep.FailoverEvent) {}
