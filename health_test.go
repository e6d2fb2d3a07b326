package gatekeep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gk "github.com/relayops/gatekeep"
	"github.com/relayops/gatekeep/provider/mock"
)

var errProbe = errors.New("probe refused")

func newHealthFixture(t *testing.T, providers ...gk.Provider) (*gk.HealthChecker, *gk.Registry) {
	t.Helper()
	reg := gk.NewRegistry()
	for _, p := range providers {
		reg.Register(p)
	}
	hc := gk.NewHealthChecker(gk.HealthConfig{
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}, reg)
	return hc, reg
}

func TestHealthChecker_UnknownProviderIsHealthy(t *testing.T) {
	hc, _ := newHealthFixture(t)
	assert.True(t, hc.IsHealthy("never-probed"))
}

func TestHealthChecker_FailureStreakFlipsUnhealthy(t *testing.T) {
	bad := mock.New(mock.WithName("bad"), mock.WithProbeError(errProbe))
	hc, _ := newHealthFixture(t, bad)
	ctx := context.Background()

	hc.CheckAll(ctx)
	hc.CheckAll(ctx)
	assert.True(t, hc.IsHealthy("bad"), "below the failure threshold the flag holds")

	hc.CheckAll(ctx)
	assert.False(t, hc.IsHealthy("bad"))
	assert.Equal(t, int64(3), bad.ProbeCount())

	m := hc.Metrics()["bad"]
	assert.Equal(t, 3, m.ConsecutiveFailures)
	assert.Equal(t, int64(0), m.SuccessfulProbes)
	assert.ErrorIs(t, m.LastErr, errProbe)
}

func TestHealthChecker_RecoveryStreakFlipsHealthy(t *testing.T) {
	hc, _ := newHealthFixture(t)

	for i := 0; i < 3; i++ {
		hc.Observe("a", false, 0, errProbe)
	}
	require.False(t, hc.IsHealthy("a"))

	hc.Observe("a", true, 0, nil)
	assert.False(t, hc.IsHealthy("a"), "one success is below the recovery threshold")

	hc.Observe("a", true, 0, nil)
	assert.True(t, hc.IsHealthy("a"))
}

func TestHealthChecker_FailureResetsRecoveryStreak(t *testing.T) {
	hc, _ := newHealthFixture(t)

	for i := 0; i < 3; i++ {
		hc.Observe("a", false, 0, errProbe)
	}
	hc.Observe("a", true, 0, nil)
	hc.Observe("a", false, 0, errProbe)
	hc.Observe("a", true, 0, nil)
	assert.False(t, hc.IsHealthy("a"), "the success streak must be consecutive")

	hc.Observe("a", true, 0, nil)
	assert.True(t, hc.IsHealthy("a"))
}

func TestHealthChecker_HealthyAndUnhealthyLists(t *testing.T) {
	good := mock.New(mock.WithName("good"))
	bad := mock.New(mock.WithName("bad"), mock.WithProbeError(errProbe))
	hc, _ := newHealthFixture(t, good, bad)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		hc.CheckAll(ctx)
	}

	assert.Equal(t, []string{"good"}, hc.HealthyProviders())
	assert.Equal(t, []string{"bad"}, hc.UnhealthyProviders())
}

func TestHealthChecker_SetProviderHealthOverride(t *testing.T) {
	hc, _ := newHealthFixture(t)

	hc.SetProviderHealth("a", false)
	assert.False(t, hc.IsHealthy("a"))

	// Recovery after an override still needs the full streak.
	hc.Observe("a", true, 0, nil)
	assert.False(t, hc.IsHealthy("a"))
	hc.Observe("a", true, 0, nil)
	assert.True(t, hc.IsHealthy("a"))
}

func TestHealthChecker_StartProbesImmediately(t *testing.T) {
	p := mock.New(mock.WithName("a"))
	reg := gk.NewRegistry()
	reg.Register(p)

	hc := gk.NewHealthChecker(gk.HealthConfig{Interval: time.Hour}, reg)
	hc.Start()
	defer hc.Stop()

	require.Eventually(t, func() bool {
		return p.ProbeCount() == 1
	}, time.Second, 5*time.Millisecond)

	m := hc.Metrics()["a"]
	assert.True(t, m.Healthy)
	assert.Equal(t, int64(1), m.TotalProbes)
	assert.False(t, m.LastProbe.IsZero())
}

func TestHealthChecker_StopIsIdempotent(t *testing.T) {
	hc, _ := newHealthFixture(t, mock.New(mock.WithName("a")))
	hc.Start()
	hc.Stop()
	hc.Stop()
}

func TestHealthChecker_UptimeAndLatency(t *testing.T) {
	hc, _ := newHealthFixture(t)

	hc.Observe("a", true, 10*time.Millisecond, nil)
	hc.Observe("a", true, 30*time.Millisecond, nil)
	hc.Observe("a", false, 20*time.Millisecond, errProbe)

	m := hc.Metrics()["a"]
	assert.InDelta(t, 2.0/3.0, m.Uptime, 1e-9)
	assert.Equal(t, 20*time.Millisecond, m.AverageLatency)
}