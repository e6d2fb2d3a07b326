package gatekeep_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gk "github.com/relayops/gatekeep"
	"github.com/relayops/gatekeep/ledger"
)

func record(provider string, units int64, cost float64) gk.UsageRecord {
	return gk.UsageRecord{
		Provider:   provider,
		Calls:      1,
		InputUnits: units,
		Cost:       cost,
		Succeeded:  true,
	}
}

func TestUsageTracker_MetricsAggregateWindows(t *testing.T) {
	store := ledger.NewMemoryStore()
	tr := gk.NewUsageTracker(store)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, record("a", 100, 0.5)))
	require.NoError(t, tr.Record(ctx, record("a", 40, 0.2)))
	require.NoError(t, tr.Record(ctx, record("b", 10, 0.1)))

	// An entry older than every window contributes to totals only.
	old := record("a", 1000, 9)
	old.Timestamp = time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, store.Append(ctx, old))

	m, err := tr.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Totals.Calls)
	assert.Equal(t, int64(1150), m.Totals.Units)
	assert.InDelta(t, 9.8, m.Totals.Cost, 1e-9)
	assert.Equal(t, int64(150), m.Windows[gk.WindowHour].Units)
	assert.Equal(t, int64(150), m.Windows[gk.WindowMonth].Units)

	pm, err := tr.ProviderMetrics(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pm.Windows[gk.WindowDay].Units)
}

func TestUsageTracker_WouldExceedBoundary(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())
	ctx := context.Background()

	tr.SetQuotas("a", map[string]gk.QuotaLimits{
		gk.WindowDay: {MaxUnits: 100},
	})

	require.NoError(t, tr.Record(ctx, record("a", 50, 0)))

	// Landing exactly at the limit is allowed.
	exceeded, err := tr.WouldExceed(ctx, "a", 50, 0)
	require.NoError(t, err)
	assert.False(t, exceeded)

	// One unit over is denied.
	exceeded, err = tr.WouldExceed(ctx, "a", 51, 0)
	require.NoError(t, err)
	assert.True(t, exceeded)
}

func TestUsageTracker_WouldExceedDeniesSaturatedWindow(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())
	ctx := context.Background()

	tr.SetQuotas("a", map[string]gk.QuotaLimits{
		gk.WindowHour: {MaxUnits: 100},
	})
	require.NoError(t, tr.Record(ctx, record("a", 100, 0)))

	exceeded, err := tr.WouldExceed(ctx, "a", 0, 0)
	require.NoError(t, err)
	assert.True(t, exceeded, "a saturated window denies even a zero estimate")
}

func TestUsageTracker_WouldExceedCostQuota(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())
	ctx := context.Background()

	tr.SetQuotas("a", map[string]gk.QuotaLimits{
		gk.WindowMonth: {MaxCost: 10},
	})
	require.NoError(t, tr.Record(ctx, record("a", 0, 9.5)))

	exceeded, err := tr.WouldExceed(ctx, "a", 0, 0.5)
	require.NoError(t, err)
	assert.False(t, exceeded)

	exceeded, err = tr.WouldExceed(ctx, "a", 0, 0.6)
	require.NoError(t, err)
	assert.True(t, exceeded)
}

func TestUsageTracker_UnconfiguredProviderIsUnlimited(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())

	exceeded, err := tr.WouldExceed(context.Background(), "anything", 1<<40, 1e9)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestUsageTracker_CheckQuotasReportsHighestThreshold(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())
	ctx := context.Background()

	tr.SetQuotas("a", map[string]gk.QuotaLimits{
		gk.WindowDay: {MaxCalls: 10, MaxUnits: 100},
	})

	for i := 0; i < 8; i++ {
		require.NoError(t, tr.Record(ctx, record("a", 12, 0)))
	}

	statuses, err := tr.CheckQuotas(ctx, "a")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byMetric := map[string]gk.QuotaStatus{}
	for _, s := range statuses {
		byMetric[s.Metric] = s
	}

	// 8/10 calls: exactly at the 80% threshold.
	assert.InDelta(t, 80, byMetric["calls"].Percent, 1e-9)
	assert.Contains(t, byMetric["calls"].Warning, "80%")

	// 96/100 units: only the highest crossed threshold is reported.
	assert.InDelta(t, 96, byMetric["units"].Percent, 1e-9)
	assert.Contains(t, byMetric["units"].Warning, "95%")
}

func TestUsageTracker_CheckQuotasNoWarningBelowThreshold(t *testing.T) {
	tr := gk.NewUsageTracker(ledger.NewMemoryStore())
	ctx := context.Background()

	tr.SetQuotas("a", map[string]gk.QuotaLimits{
		gk.WindowDay: {MaxCalls: 10},
	})
	require.NoError(t, tr.Record(ctx, record("a", 1, 0)))

	statuses, err := tr.CheckQuotas(ctx, "a")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Empty(t, statuses[0].Warning)
}

func TestMemoryStore_PruneDropsOldRecords(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()

	old := record("a", 10, 0)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Append(ctx, old))
	fresh := record("a", 5, 0)
	fresh.Timestamp = time.Now()
	require.NoError(t, store.Append(ctx, fresh))

	require.NoError(t, store.Prune(ctx, time.Now().Add(-time.Hour)))

	totals, err := store.TotalsSince(ctx, "a", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), totals.Units)
	assert.Equal(t, 1, store.Len())
}
