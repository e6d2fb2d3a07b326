package gatekeep

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNoCandidates        = errors.New("gatekeep: no candidates available")
	ErrBreakerOpen         = errors.New("gatekeep: circuit breaker is open")
	ErrRateLimited         = errors.New("gatekeep: rate limited")
	ErrQuotaExceeded       = errors.New("gatekeep: quota exceeded")
	ErrProviderUnavailable = errors.New("gatekeep: provider unavailable")
	ErrAuthFailed          = errors.New("gatekeep: authentication failed")
	ErrInvalidInput        = errors.New("gatekeep: invalid input")
	ErrQueueFull           = errors.New("gatekeep: request queue at capacity")
	ErrQueueTimeout        = errors.New("gatekeep: queued work expired before execution")
	ErrQueueCleared        = errors.New("gatekeep: request queue cleared")
	ErrAllFailed           = errors.New("gatekeep: all candidates failed")
)

// OrchestratorError wraps an error with failover context.
type OrchestratorError struct {
	Err      error
	Provider string
	Attempts int
}

func (e *OrchestratorError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("gatekeep: attempts=%d: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("gatekeep: provider=%s attempts=%d: %v", e.Provider, e.Attempts, e.Err)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must not be retried against the same
// provider. A different provider may still be tried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidInput)
}

// IsRetryable returns true if the error can be retried with another candidate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrBreakerOpen)
}
