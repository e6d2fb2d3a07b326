package gatekeep

import "time"

// Meter observes orchestration events for monitoring/logging.
type Meter interface {
	// OnAttempt is called before each candidate attempt.
	OnAttempt(event AttemptEvent)

	// OnResult is called when a candidate attempt completes.
	OnResult(event ResultEvent)

	// OnFailover is called when control passes from one candidate to
	// the next.
	OnFailover(event FailoverEvent)
}

// AttemptEvent describes one candidate attempt about to be made.
type AttemptEvent struct {
	Provider       string
	Attempt        int
	Preferred      bool
	EstimatedUnits int64
	Queued         bool
}

// ResultEvent describes the outcome of one candidate attempt.
type ResultEvent struct {
	Provider string
	Attempt  int
	Success  bool
	Duration time.Duration
	Usage    Usage
	Cost     float64
	Err      error
}

// FailoverEvent describes control passing to the next candidate.
type FailoverEvent struct {
	From   string
	To     string
	Reason error
}
