package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gk "github.com/relayops/gatekeep"
	"github.com/relayops/gatekeep/ledger"
)

func appendRecord(t *testing.T, store *ledger.MemoryStore, provider string, age time.Duration, units int64, cost float64) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), gk.UsageRecord{
		Timestamp:  time.Now().Add(-age),
		Provider:   provider,
		Calls:      1,
		InputUnits: units,
		Cost:       cost,
		Succeeded:  true,
	}))
}

func TestMemoryStore_TotalsSinceFiltersProvider(t *testing.T) {
	store := ledger.NewMemoryStore()
	appendRecord(t, store, "a", 0, 100, 0.1)
	appendRecord(t, store, "b", 0, 40, 0.2)

	totals, err := store.TotalsSince(context.Background(), "a", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, gk.UsageTotals{Calls: 1, Units: 100, Cost: 0.1}, totals)

	// Empty provider aggregates everything.
	totals, err = store.TotalsSince(context.Background(), "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Calls)
	assert.Equal(t, int64(140), totals.Units)
}

func TestMemoryStore_TotalsSinceCutoff(t *testing.T) {
	store := ledger.NewMemoryStore()
	appendRecord(t, store, "a", 2*time.Hour, 100, 0)
	appendRecord(t, store, "a", time.Minute, 40, 0)

	totals, err := store.TotalsSince(context.Background(), "a", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(40), totals.Units)
}

func TestMemoryStore_Prune(t *testing.T) {
	store := ledger.NewMemoryStore()
	appendRecord(t, store, "a", 48*time.Hour, 100, 0)
	appendRecord(t, store, "a", time.Minute, 40, 0)
	require.Equal(t, 2, store.Len())

	require.NoError(t, store.Prune(context.Background(), time.Now().Add(-24*time.Hour)))

	assert.Equal(t, 1, store.Len())
	totals, err := store.TotalsSince(context.Background(), "a", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(40), totals.Units)
}