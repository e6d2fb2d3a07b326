// Package redis provides a Redis-backed LedgerStore.
//
// Records are stored as JSON members of per-provider sorted sets scored by
// timestamp, which makes window aggregation a range query and pruning a
// range removal. This makes the ledger safe to share across instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/relayops/gatekeep"
)

// Store is a Redis-backed LedgerStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ gatekeep.LedgerStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix. Default: "gatekeep".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a Redis-backed ledger store.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "gatekeep",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ledgerKey(provider string) string {
	return fmt.Sprintf("%s:ledger:%s", s.keyPrefix, provider)
}

func (s *Store) providersKey() string {
	return s.keyPrefix + ":providers"
}

// Append adds a record to the ledger.
func (s *Store) Append(ctx context.Context, rec gatekeep.UsageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("gatekeep/redis: marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.providersKey(), rec.Provider)
	pipe.ZAdd(ctx, s.ledgerKey(rec.Provider), goredis.Z{
		Score:  float64(rec.Timestamp.UnixMilli()),
		Member: string(payload),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gatekeep/redis: append: %w", err)
	}
	return nil
}

// TotalsSince aggregates records at or after the given time.
func (s *Store) TotalsSince(ctx context.Context, provider string, since time.Time) (gatekeep.UsageTotals, error) {
	providers := []string{provider}
	if provider == "" {
		var err error
		providers, err = s.client.SMembers(ctx, s.providersKey()).Result()
		if err != nil {
			return gatekeep.UsageTotals{}, fmt.Errorf("gatekeep/redis: list providers: %w", err)
		}
	}

	min := "-inf"
	if !since.IsZero() {
		min = strconv.FormatInt(since.UnixMilli(), 10)
	}

	var totals gatekeep.UsageTotals
	for _, p := range providers {
		members, err := s.client.ZRangeByScore(ctx, s.ledgerKey(p), &goredis.ZRangeBy{
			Min: min,
			Max: "+inf",
		}).Result()
		if err != nil {
			return gatekeep.UsageTotals{}, fmt.Errorf("gatekeep/redis: range %s: %w", p, err)
		}
		for _, m := range members {
			var rec gatekeep.UsageRecord
			if err := json.Unmarshal([]byte(m), &rec); err != nil {
				return gatekeep.UsageTotals{}, fmt.Errorf("gatekeep/redis: decode record: %w", err)
			}
			totals.Calls += rec.Calls
			totals.Units += rec.InputUnits + rec.OutputUnits
			totals.Cost += rec.Cost
		}
	}
	return totals, nil
}

// Prune removes records older than the given time.
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	providers, err := s.client.SMembers(ctx, s.providersKey()).Result()
	if err != nil {
		return fmt.Errorf("gatekeep/redis: list providers: %w", err)
	}

	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for _, p := range providers {
		if err := s.client.ZRemRangeByScore(ctx, s.ledgerKey(p), "-inf", max).Err(); err != nil {
			return fmt.Errorf("gatekeep/redis: prune %s: %w", p, err)
		}
	}
	return nil
}
