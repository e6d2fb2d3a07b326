package gatekeep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Quota warning thresholds, in percent. CheckQuotas reports only the
// highest threshold crossed per metric.
var quotaWarnThresholds = []float64{80, 90, 95}

// QuotaStatus reports one metric of one quota window.
type QuotaStatus struct {
	Provider string  `json:"provider"`
	Window   string  `json:"window"`
	Metric   string  `json:"metric"` // calls, units, cost
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
	Percent  float64 `json:"percent"`
	Warning  string  `json:"warning,omitempty"`
}

// UsageMetrics aggregates the ledger for reporting.
type UsageMetrics struct {
	Totals  UsageTotals            `json:"totals"`
	Windows map[string]UsageTotals `json:"windows"` // hour, day, month
}

// UsageTracker keeps the rolling usage ledger and enforces business/cost
// quotas. It is advisory admission control layered in front of the
// RateLimiter: quotas are cost ceilings, the rate limiter is raw throughput.
type UsageTracker struct {
	store LedgerStore

	mu     sync.RWMutex
	quotas map[string]map[string]QuotaLimits // provider → window → limits

	pruneEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
	running    bool
}

// NewUsageTracker creates a tracker backed by the given store.
func NewUsageTracker(store LedgerStore) *UsageTracker {
	return &UsageTracker{
		store:      store,
		quotas:     make(map[string]map[string]QuotaLimits),
		pruneEvery: 5 * time.Minute,
	}
}

// SetQuotas configures the quota limits for a provider.
func (t *UsageTracker) SetQuotas(provider string, quotas map[string]QuotaLimits) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make(map[string]QuotaLimits, len(quotas))
	for w, l := range quotas {
		cp[w] = l
	}
	t.quotas[provider] = cp
}

// Record appends a usage record to the ledger. A zero ID and timestamp are
// filled in.
func (t *UsageTracker) Record(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return t.store.Append(ctx, rec)
}

// Metrics aggregates totals and per-window sums across all providers.
func (t *UsageTracker) Metrics(ctx context.Context) (UsageMetrics, error) {
	return t.ProviderMetrics(ctx, "")
}

// ProviderMetrics aggregates totals and per-window sums for one provider.
func (t *UsageTracker) ProviderMetrics(ctx context.Context, provider string) (UsageMetrics, error) {
	totals, err := t.store.TotalsSince(ctx, provider, time.Time{})
	if err != nil {
		return UsageMetrics{}, err
	}

	now := time.Now()
	windows := make(map[string]UsageTotals, 3)
	for _, w := range []string{WindowHour, WindowDay, WindowMonth} {
		wt, err := t.store.TotalsSince(ctx, provider, now.Add(-quotaWindowInterval(w)))
		if err != nil {
			return UsageMetrics{}, err
		}
		windows[w] = wt
	}

	return UsageMetrics{Totals: totals, Windows: windows}, nil
}

// CheckQuotas computes {used, limit, percent} for every configured limit of
// the provider, attaching a warning for the highest threshold crossed.
func (t *UsageTracker) CheckQuotas(ctx context.Context, provider string) ([]QuotaStatus, error) {
	t.mu.RLock()
	quotas := t.quotas[provider]
	t.mu.RUnlock()

	if len(quotas) == 0 {
		return nil, nil
	}

	now := time.Now()
	var out []QuotaStatus
	for _, window := range []string{WindowHour, WindowDay, WindowMonth} {
		limits, ok := quotas[window]
		if !ok {
			continue
		}
		used, err := t.store.TotalsSince(ctx, provider, now.Add(-quotaWindowInterval(window)))
		if err != nil {
			return nil, err
		}

		if limits.MaxCalls > 0 {
			out = append(out, quotaStatus(provider, window, "calls", float64(used.Calls), float64(limits.MaxCalls)))
		}
		if limits.MaxUnits > 0 {
			out = append(out, quotaStatus(provider, window, "units", float64(used.Units), float64(limits.MaxUnits)))
		}
		if limits.MaxCost > 0 {
			out = append(out, quotaStatus(provider, window, "cost", used.Cost, limits.MaxCost))
		}
	}
	return out, nil
}

func quotaStatus(provider, window, metric string, used, limit float64) QuotaStatus {
	pct := used / limit * 100
	s := QuotaStatus{
		Provider: provider,
		Window:   window,
		Metric:   metric,
		Used:     used,
		Limit:    limit,
		Percent:  pct,
	}
	for _, threshold := range quotaWarnThresholds {
		if pct >= threshold {
			s.Warning = fmt.Sprintf("%s/%s usage at %.1f%% (threshold %.0f%%)", window, metric, pct, threshold)
		}
	}
	return s
}

// WouldExceed is the pre-flight quota gate. It denies when any configured
// window is already saturated, or when adding the estimate would push a
// window's projected usage strictly over its limit. Landing exactly at the
// limit is allowed.
func (t *UsageTracker) WouldExceed(ctx context.Context, provider string, estUnits int64, estCost float64) (bool, error) {
	t.mu.RLock()
	quotas := t.quotas[provider]
	t.mu.RUnlock()

	if len(quotas) == 0 {
		return false, nil
	}

	now := time.Now()
	for window, limits := range quotas {
		used, err := t.store.TotalsSince(ctx, provider, now.Add(-quotaWindowInterval(window)))
		if err != nil {
			return false, err
		}

		if limits.MaxCalls > 0 && used.Calls+1 > limits.MaxCalls {
			return true, nil
		}
		if limits.MaxUnits > 0 && (used.Units >= limits.MaxUnits || used.Units+estUnits > limits.MaxUnits) {
			return true, nil
		}
		if limits.MaxCost > 0 && (used.Cost >= limits.MaxCost || used.Cost+estCost > limits.MaxCost) {
			return true, nil
		}
	}
	return false, nil
}

// StartPruning launches the periodic pruner removing records older than the
// longest configured window.
func (t *UsageTracker) StartPruning() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.pruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = t.store.Prune(context.Background(), time.Now().Add(-quotaWindowInterval(WindowMonth)))
			case <-t.stop:
				return
			}
		}
	}()
}

// StopPruning stops the periodic pruner.
func (t *UsageTracker) StopPruning() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
}
