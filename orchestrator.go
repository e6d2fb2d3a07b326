package gatekeep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const attemptRingSize = 128

// AttemptRecord is one entry of the bounded failover attempt history.
type AttemptRecord struct {
	Provider  string
	Succeeded bool
	Latency   time.Duration
	Timestamp time.Time
	Err       error
}

// Metrics is a snapshot of orchestrator activity.
type Metrics struct {
	TotalRequests  int64
	Successful     int64
	Failed         int64
	Failovers      int64
	ProviderUsage  map[string]int64
	AverageLatency time.Duration
}

// Orchestrator is the composition root of the provider-access layer. For
// every request it selects an ordered candidate list, applies the circuit
// breaker and rate limiter gates, executes with inter-provider fallback,
// and records outcome bookkeeping. It is constructed once at process start
// and shared by reference across callers.
type Orchestrator struct {
	cfg      Config
	registry *Registry
	policy   Policy
	meter    Meter
	tracker  *UsageTracker
	health   *HealthChecker
	queue    *RequestQueue

	rateSettings map[string]RateLimitSettings

	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	limiters  map[string]*RateLimiter
	attempts  []AttemptRecord
	totals    struct {
		requests, successful, failed, failovers int64
		latencySum                              time.Duration
		latencyCount                            int64
		providerUsage                           map[string]int64
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the candidate-ordering policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// WithLedgerStore sets the usage ledger store.
func WithLedgerStore(s LedgerStore) Option {
	return func(o *Orchestrator) { o.tracker = NewUsageTracker(s) }
}

// New creates an Orchestrator from config and a provider registry.
// Defaults (fixed candidate order, no-op meter, in-memory ledger) are used
// unless overridden via options.
func New(cfg Config, registry *Registry, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:          cfg,
		registry:     registry,
		rateSettings: make(map[string]RateLimitSettings, len(cfg.Providers)),
		breakers:     make(map[string]*CircuitBreaker),
		limiters:     make(map[string]*RateLimiter),
	}
	o.totals.providerUsage = make(map[string]int64)

	for _, opt := range opts {
		opt(o)
	}

	// Apply defaults after options.
	if o.policy == nil {
		o.policy = fixedOrderPolicy{}
	}
	if o.meter == nil {
		o.meter = noopMeter{}
	}
	if o.tracker == nil {
		o.tracker = NewUsageTracker(newMemoryLedger())
	}

	for _, p := range cfg.Providers {
		o.rateSettings[p.ID] = p.RateLimits
		if len(p.Quotas) > 0 {
			o.tracker.SetQuotas(p.ID, p.Quotas)
		}
	}

	o.health = NewHealthChecker(healthFromSettings(cfg.HealthCheck), registry)
	o.queue = NewRequestQueue(queueFromSettings(cfg.Queue))

	return o, nil
}

// Start launches the background health checker and ledger pruner.
func (o *Orchestrator) Start() {
	o.health.Start()
	o.tracker.StartPruning()
}

// Stop halts background work and fails any queued items. The orchestrator
// accepts no further requests after Stop.
func (o *Orchestrator) Stop() {
	o.health.Stop()
	o.tracker.StopPruning()
	o.queue.Close()
}

// Analyze routes the request across candidate providers with bounded
// retries and failover. Candidates are tried strictly sequentially; the
// caller sees either the first successful result or one terminal error.
func (o *Orchestrator) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	o.mu.Lock()
	o.totals.requests++
	o.mu.Unlock()

	candidates := o.policy.Order(buildCandidates(req, o.registry, o.health, o.cfg.Failover.FallbackOrder, o.failureRate))
	if len(candidates) == 0 {
		o.countFailed()
		return AnalysisResult{}, ErrNoCandidates
	}

	maxAttempts := o.cfg.Failover.MaxTotalAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	var (
		lastErr   error
		attempts  int
		failovers int
	)

	for i, c := range candidates {
		if attempts >= maxAttempts {
			break
		}
		name := c.Provider.Name()

		// Open breakers are skipped silently; only the aggregate error
		// is ever surfaced.
		if !o.breaker(name).CanExecute() {
			continue
		}

		exceeded, err := o.tracker.WouldExceed(ctx, name, c.EstimatedUnits, c.EstimatedCost)
		if err != nil {
			lastErr = err
			continue
		}
		if exceeded {
			lastErr = ErrQuotaExceeded
			continue
		}

		attempts++
		res, err := o.dispatch(ctx, c, req, attempts)
		if err == nil {
			res.Routing = RoutingInfo{Provider: name, Attempts: attempts, Failovers: failovers}
			o.countSuccess()
			return res, nil
		}
		lastErr = err

		if err := ctx.Err(); err != nil {
			break
		}

		if i+1 < len(candidates) && attempts < maxAttempts {
			failovers++
			o.countFailover()
			o.meter.OnFailover(FailoverEvent{
				From:   name,
				To:     candidates[i+1].Provider.Name(),
				Reason: err,
			})

			delay := msDuration(o.cfg.Failover.InterProviderDelayMs)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				}
			}
		}
	}

	o.countFailed()
	if lastErr == nil {
		lastErr = ErrBreakerOpen
	}
	return AnalysisResult{}, &OrchestratorError{
		Err:      fmt.Errorf("%w: last error: %w", ErrAllFailed, lastErr),
		Attempts: attempts,
	}
}

// dispatch runs one candidate attempt, deferring through the request queue
// when the rate limiter denies immediate admission.
func (o *Orchestrator) dispatch(ctx context.Context, c Candidate, req AnalysisRequest, attempt int) (AnalysisResult, error) {
	name := c.Provider.Name()
	adm := o.limiter(name).TryAdmit(1, c.EstimatedUnits)

	if adm.Allowed {
		o.meter.OnAttempt(AttemptEvent{
			Provider:       name,
			Attempt:        attempt,
			Preferred:      c.Preferred,
			EstimatedUnits: c.EstimatedUnits,
		})
		return o.attempt(ctx, c, req, attempt)
	}

	// Rate limited: defer rather than drop, unless the wait would exceed
	// the queue's patience.
	maxWait := msDuration(o.cfg.Queue.MaxWaitMs)
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	if adm.RetryAfter > maxWait {
		o.recordRateLimited(ctx, name)
		return AnalysisResult{}, ErrRateLimited
	}

	o.meter.OnAttempt(AttemptEvent{
		Provider:       name,
		Attempt:        attempt,
		Preferred:      c.Preferred,
		EstimatedUnits: c.EstimatedUnits,
		Queued:         true,
	})

	return o.queue.Enqueue(ctx, func(ctx context.Context) (AnalysisResult, error) {
		adm := o.limiter(name).TryAdmit(1, c.EstimatedUnits)
		if !adm.Allowed {
			o.recordRateLimited(ctx, name)
			return AnalysisResult{}, ErrRateLimited
		}
		return o.attempt(ctx, c, req, attempt)
	}, req.Priority, c.EstimatedUnits, maxWait)
}

// attempt executes the provider call through its circuit breaker and
// performs all per-attempt bookkeeping.
func (o *Orchestrator) attempt(ctx context.Context, c Candidate, req AnalysisRequest, attempt int) (AnalysisResult, error) {
	name := c.Provider.Name()

	var res AnalysisResult
	start := time.Now()
	err := o.breaker(name).Execute(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = c.Provider.Analyze(ctx, req)
		return callErr
	})
	latency := time.Since(start)

	// A breaker that flipped open between the gate check and execution
	// never invoked the provider; nothing to account for.
	if errors.Is(err, ErrBreakerOpen) {
		return AnalysisResult{}, err
	}

	cost := 0.0
	if err == nil {
		cost = c.Provider.EstimateCost(res.Usage.TotalUnits)
	}

	_ = o.tracker.Record(ctx, UsageRecord{
		Provider:    name,
		Model:       res.Model,
		Calls:       1,
		InputUnits:  res.Usage.InputUnits,
		OutputUnits: res.Usage.OutputUnits,
		Cost:        cost,
		Succeeded:   err == nil,
	})
	o.health.Observe(name, err == nil, latency, err)
	o.meter.OnResult(ResultEvent{
		Provider: name,
		Attempt:  attempt,
		Success:  err == nil,
		Duration: latency,
		Usage:    res.Usage,
		Cost:     cost,
		Err:      err,
	})
	o.recordAttempt(AttemptRecord{
		Provider:  name,
		Succeeded: err == nil,
		Latency:   latency,
		Timestamp: start,
		Err:       err,
	})

	if err != nil {
		return AnalysisResult{}, err
	}
	res.Provider = name
	return res, nil
}

func (o *Orchestrator) recordRateLimited(ctx context.Context, provider string) {
	_ = o.tracker.Record(ctx, UsageRecord{
		Provider:    provider,
		RateLimited: true,
	})
}

// BestProvider returns the provider that Analyze would try first for the
// given preference, without executing anything.
func (o *Orchestrator) BestProvider(preferred string) (Provider, error) {
	req := AnalysisRequest{PreferredProvider: preferred}
	candidates := o.policy.Order(buildCandidates(req, o.registry, o.health, o.cfg.Failover.FallbackOrder, o.failureRate))

	for _, c := range candidates {
		if o.breaker(c.Provider.Name()).CanExecute() {
			return c.Provider, nil
		}
	}
	return nil, ErrNoCandidates
}

// breaker returns the provider's circuit breaker, creating it on first use.
func (o *Orchestrator) breaker(provider string) *CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	cb, ok := o.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(breakerFromSettings(o.cfg.Breaker))
		o.breakers[provider] = cb
	}
	return cb
}

// limiter returns the provider's rate limiter, creating it on first use.
// Providers without configured windows are unlimited.
func (o *Orchestrator) limiter(provider string) *RateLimiter {
	o.mu.Lock()
	defer o.mu.Unlock()

	rl, ok := o.limiters[provider]
	if !ok {
		rl = NewRateLimiter(o.rateSettings[provider])
		o.limiters[provider] = rl
	}
	return rl
}

func (o *Orchestrator) failureRate(provider string) float64 {
	return o.breaker(provider).FailureRate()
}

func (o *Orchestrator) countSuccess() {
	o.mu.Lock()
	o.totals.successful++
	o.mu.Unlock()
}

func (o *Orchestrator) countFailed() {
	o.mu.Lock()
	o.totals.failed++
	o.mu.Unlock()
}

func (o *Orchestrator) countFailover() {
	o.mu.Lock()
	o.totals.failovers++
	o.mu.Unlock()
}

func (o *Orchestrator) recordAttempt(rec AttemptRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.totals.providerUsage[rec.Provider]++
	o.totals.latencySum += rec.Latency
	o.totals.latencyCount++

	if len(o.attempts) >= attemptRingSize {
		o.attempts = append(o.attempts[1:], rec)
	} else {
		o.attempts = append(o.attempts, rec)
	}
}

// RecentAttempts returns a copy of the bounded attempt history, oldest
// first.
func (o *Orchestrator) RecentAttempts() []AttemptRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]AttemptRecord, len(o.attempts))
	copy(out, o.attempts)
	return out
}

// GetMetrics returns a snapshot of orchestrator counters.
func (o *Orchestrator) GetMetrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	usage := make(map[string]int64, len(o.totals.providerUsage))
	for k, v := range o.totals.providerUsage {
		usage[k] = v
	}
	var avg time.Duration
	if o.totals.latencyCount > 0 {
		avg = o.totals.latencySum / time.Duration(o.totals.latencyCount)
	}
	return Metrics{
		TotalRequests:  o.totals.requests,
		Successful:     o.totals.successful,
		Failed:         o.totals.failed,
		Failovers:      o.totals.failovers,
		ProviderUsage:  usage,
		AverageLatency: avg,
	}
}

// BreakerStates reports the current state of every known breaker.
func (o *Orchestrator) BreakerStates() map[string]BreakerState {
	o.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(o.breakers))
	for name, cb := range o.breakers {
		breakers[name] = cb
	}
	o.mu.Unlock()

	out := make(map[string]BreakerState, len(breakers))
	for name, cb := range breakers {
		out[name] = cb.State()
	}
	return out
}

// HealthMetrics reports per-provider health records.
func (o *Orchestrator) HealthMetrics() map[string]ProviderHealth {
	return o.health.Metrics()
}

// QueueStatus reports the request queue's depth and counters.
func (o *Orchestrator) QueueStatus() QueueStatus {
	return o.queue.Status()
}

// Health exposes the health checker for operator overrides.
func (o *Orchestrator) Health() *HealthChecker {
	return o.health
}

// Usage exposes the usage tracker for quota reporting.
func (o *Orchestrator) Usage() *UsageTracker {
	return o.tracker
}

// RateLimiterStatus reports remaining tokens per window for a provider.
func (o *Orchestrator) RateLimiterStatus(provider string) map[string]float64 {
	return o.limiter(provider).Status()
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent)   {}
func (noopMeter) OnResult(ResultEvent)     {}
func (noopMeter) OnFailover(FailoverEvent) {}

// memoryLedger is the default in-process ledger store. The ledger
// subpackage provides shared Redis- and Postgres-backed stores.
type memoryLedger struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func newMemoryLedger() *memoryLedger { return &memoryLedger{} }

func (s *memoryLedger) Append(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryLedger) TotalsSince(_ context.Context, provider string, since time.Time) (UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t UsageTotals
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

func (s *memoryLedger) Prune(_ context.Context, before time.Time) error {
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
