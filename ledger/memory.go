// Package ledger provides LedgerStore implementations for the usage tracker.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/relayops/gatekeep"
)

// MemoryStore is an in-memory LedgerStore. It is the default store and is
// suitable for single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []gatekeep.UsageRecord
}

var _ gatekeep.LedgerStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a record to the ledger.
func (s *MemoryStore) Append(_ context.Context, rec gatekeep.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// TotalsSince aggregates records at or after the given time.
func (s *MemoryStore) TotalsSince(_ context.Context, provider string, since time.Time) (gatekeep.UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t gatekeep.UsageTotals
	for _, rec := range s.records {
		if provider != "" && rec.Provider != provider {
			continue
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		t.Calls += rec.Calls
		t.Units += rec.InputUnits + rec.OutputUnits
		t.Cost += rec.Cost
	}
	return t, nil
}

// Prune removes records older than the given time.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := s.records[:0]
	for _, rec := range s.records {
		if !rec.Timestamp.Before(before) {
			valid = append(valid, rec)
		}
	}
	s.records = valid
	return nil
}

// Len returns the number of records currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
