package gatekeep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }
func okOp(context.Context) error      { return nil }

func TestBreaker_OpensExactlyOnNthConsecutiveFailure(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), failingOp), errBoom)
		require.Equal(t, StateClosed, cb.State(), "must stay closed before the Nth failure")
	}

	require.ErrorIs(t, cb.Execute(context.Background(), failingOp), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_OpenDeniesWithoutInvoking(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	require.Error(t, cb.Execute(context.Background(), failingOp))

	invoked := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, invoked)
}

func TestBreaker_LazyHalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond, SuccessThreshold: 2})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.CanExecute())

	time.Sleep(40 * time.Millisecond)

	// The observation itself performs the transition.
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreaker_HalfOpenFailureReopensAndRestartsTimer(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	time.Sleep(40 * time.Millisecond)
	require.True(t, cb.CanExecute())

	require.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute(), "timer must restart on the half-open failure")
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, SuccessThreshold: 2})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.Equal(t, StateHalfOpen, cb.State(), "one success is not enough")
	require.NoError(t, cb.Execute(context.Background(), okOp))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestBreaker_FailureRateOverSlidingWindow(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 100, SlidingWindow: time.Minute})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))

	assert.InDelta(t, 0.5, cb.FailureRate(), 1e-9)

	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.InDelta(t, 0.5, m.FailureRate, 1e-9)
}

func TestBreaker_SlidingWindowPrunesOldOutcomes(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 100, SlidingWindow: 20 * time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), failingOp))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), okOp))

	assert.Equal(t, 0.0, cb.FailureRate())
}
