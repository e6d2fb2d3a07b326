package gatekeep

import (
	"context"
	"time"
)

// UsageRecord is one immutable ledger entry for a provider call.
type UsageRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model,omitempty"`
	Calls       int64     `json:"calls"`
	InputUnits  int64     `json:"input_units"`
	OutputUnits int64     `json:"output_units"`
	Cost        float64   `json:"cost"`
	Succeeded   bool      `json:"succeeded"`
	RateLimited bool      `json:"rate_limited"`
}

// UsageTotals aggregates ledger entries.
type UsageTotals struct {
	Calls int64   `json:"calls"`
	Units int64   `json:"units"`
	Cost  float64 `json:"cost"`
}

// LedgerStore persists the append-only usage ledger. The in-memory store is
// the default; Redis- and Postgres-backed stores make the ledger shared
// across instances.
type LedgerStore interface {
	// Append adds a record to the ledger.
	Append(ctx context.Context, rec UsageRecord) error

	// TotalsSince aggregates records at or after the given time.
	// An empty provider aggregates across all providers; a zero time
	// aggregates the whole ledger.
	TotalsSince(ctx context.Context, provider string, since time.Time) (UsageTotals, error)

	// Prune removes records older than the given time.
	Prune(ctx context.Context, before time.Time) error
}
