package gatekeep

import (
	"context"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// StateClosed means calls flow through normally.
	StateClosed BreakerState = iota
	// StateOpen means calls are blocked until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen means a limited number of probes are allowed through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before allowing
	// half-open probes. Default: 30 seconds
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. Default: 2
	SuccessThreshold int

	// SlidingWindow bounds the raw-outcome history kept for failure-rate
	// reporting. Default: 1 minute
	SlidingWindow time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to BreakerState)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.SlidingWindow <= 0 {
		c.SlidingWindow = time.Minute
	}
	return c
}

// breakerFromSettings builds a BreakerConfig from the YAML settings.
func breakerFromSettings(s BreakerSettings) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: s.FailureThreshold,
		RecoveryTimeout:  msDuration(s.RecoveryTimeoutMs),
		SuccessThreshold: s.SuccessThreshold,
		SlidingWindow:    msDuration(s.SlidingWindowMs),
	}.withDefaults()
}

type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker isolates one provider experiencing sustained failures.
//
// Closed → Open on the Nth consecutive failure; Open → HalfOpen lazily once
// the recovery timeout has elapsed, performed by the state observation
// itself; HalfOpen → Closed after enough consecutive successes, and back to
// Open on any single half-open failure.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	failures   int
	successes  int
	lastChange time.Time
	outcomes   []outcome
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:        cfg.withDefaults(),
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// CanExecute reports whether a call may proceed. Observing an open circuit
// whose recovery timeout has elapsed transitions it to half-open.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked() != StateOpen
}

// Execute runs the operation through the circuit breaker. A blocked call
// returns ErrBreakerOpen without invoking the operation; otherwise the
// operation's outcome is recorded and its result propagated unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	cb.mu.Lock()
	if cb.currentStateLocked() == StateOpen {
		cb.mu.Unlock()
		return ErrBreakerOpen
	}
	cb.mu.Unlock()

	err := op(ctx)
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

// State returns the current state, applying the lazy open → half-open
// transition if due.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// FailureRate returns the failure fraction over the sliding window.
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked(time.Now())
	if len(cb.outcomes) == 0 {
		return 0
	}
	var failed int
	for _, o := range cb.outcomes {
		if !o.success {
			failed++
		}
	}
	return float64(failed) / float64(len(cb.outcomes))
}

// Reset forces the breaker back to closed with fresh counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.recordLocked(now, true)

	switch cb.currentStateLocked() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setStateLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.recordLocked(now, false)

	switch cb.currentStateLocked() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// A single half-open failure reopens the circuit and restarts
		// the recovery timer.
		cb.setStateLocked(StateOpen)
	}
}

// currentStateLocked applies the lazy open → half-open transition.
func (cb *CircuitBreaker) currentStateLocked() BreakerState {
	if cb.state == StateOpen && time.Since(cb.lastChange) >= cb.cfg.RecoveryTimeout {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

// setStateLocked transitions state and applies per-state counter scoping:
// closed and half-open reset both counters, open resets successes only.
func (cb *CircuitBreaker) setStateLocked(state BreakerState) {
	from := cb.state
	cb.state = state
	cb.lastChange = time.Now()

	switch state {
	case StateClosed, StateHalfOpen:
		cb.failures = 0
		cb.successes = 0
	case StateOpen:
		cb.successes = 0
	}

	if from != state && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, state)
	}
}

func (cb *CircuitBreaker) recordLocked(now time.Time, success bool) {
	cb.pruneLocked(now)
	cb.outcomes = append(cb.outcomes, outcome{at: now, success: success})
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.SlidingWindow)
	valid := cb.outcomes[:0]
	for _, o := range cb.outcomes {
		if o.at.After(cutoff) {
			valid = append(valid, o)
		}
	}
	cb.outcomes = valid
}

// BreakerMetrics contains circuit breaker statistics.
type BreakerMetrics struct {
	State           BreakerState
	Failures        int
	Successes       int
	FailureRate     float64
	LastStateChange time.Time
}

// Metrics returns a snapshot of the breaker's counters and failure rate.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked(time.Now())
	var failed int
	for _, o := range cb.outcomes {
		if !o.success {
			failed++
		}
	}
	rate := 0.0
	if len(cb.outcomes) > 0 {
		rate = float64(failed) / float64(len(cb.outcomes))
	}

	return BreakerMetrics{
		State:           cb.currentStateLocked(),
		Failures:        cb.failures,
		Successes:       cb.successes,
		FailureRate:     rate,
		LastStateChange: cb.lastChange,
	}
}
