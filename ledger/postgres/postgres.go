// Package postgres provides a PostgreSQL-backed LedgerStore.
//
// Records are stored as rows and aggregated with SUM queries, which makes
// the ledger durable across restarts and safe to share across instances.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayops/gatekeep"
)

// Store is a PostgreSQL-backed LedgerStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ gatekeep.LedgerStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "gatekeep_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a PostgreSQL-backed ledger store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "gatekeep_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "usage" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			calls BIGINT NOT NULL DEFAULT 0,
			input_units BIGINT NOT NULL DEFAULT 0,
			output_units BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			succeeded BOOLEAN NOT NULL DEFAULT true,
			rate_limited BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS %s_provider_ts_idx ON %s (provider, ts);
	`, s.usageTable(), s.usageTable(), s.usageTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("gatekeep/postgres: ensure schema: %w", err)
	}
	return nil
}

// Append adds a record to the ledger.
func (s *Store) Append(ctx context.Context, rec gatekeep.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, ts, provider, model, calls, input_units, output_units, cost, succeeded, rate_limited)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.usageTable()),
		rec.ID, rec.Timestamp.UTC(), rec.Provider, rec.Model,
		rec.Calls, rec.InputUnits, rec.OutputUnits, rec.Cost,
		rec.Succeeded, rec.RateLimited,
	)
	if err != nil {
		return fmt.Errorf("gatekeep/postgres: append: %w", err)
	}
	return nil
}

// TotalsSince aggregates records at or after the given time.
func (s *Store) TotalsSince(ctx context.Context, provider string, since time.Time) (gatekeep.UsageTotals, error) {
	q := fmt.Sprintf(`SELECT
			COALESCE(SUM(calls), 0),
			COALESCE(SUM(input_units + output_units), 0),
			COALESCE(SUM(cost), 0)
		FROM %s
		WHERE ($1 = '' OR provider = $1) AND ts >= $2`, s.usageTable())

	from := since.UTC()
	if since.IsZero() {
		from = time.Unix(0, 0).UTC()
	}

	var t gatekeep.UsageTotals
	err := s.pool.QueryRow(ctx, q, provider, from).Scan(&t.Calls, &t.Units, &t.Cost)
	if err != nil {
		return gatekeep.UsageTotals{}, fmt.Errorf("gatekeep/postgres: totals: %w", err)
	}
	return t, nil
}

// Prune removes records older than the given time.
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, s.usageTable()),
		before.UTC(),
	)
	if err != nil {
		return fmt.Errorf("gatekeep/postgres: prune: %w", err)
	}
	return nil
}
