package gatekeep

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthConfig configures the background health checker.
type HealthConfig struct {
	// Interval between probe sweeps. Default: 30 seconds
	Interval time.Duration

	// ProbeTimeout bounds each individual probe. Default: 5 seconds
	ProbeTimeout time.Duration

	// FailureThreshold is the consecutive-failure streak that flips a
	// provider unhealthy. Default: 3
	FailureThreshold int

	// RecoveryThreshold is the consecutive-success streak that flips an
	// unhealthy provider back. Default: 2
	RecoveryThreshold int
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
	return c
}

func healthFromSettings(s HealthSettings) HealthConfig {
	return HealthConfig{
		Interval:          msDuration(s.IntervalMs),
		ProbeTimeout:      msDuration(s.ProbeTimeoutMs),
		FailureThreshold:  s.FailureThreshold,
		RecoveryThreshold: s.RecoveryThreshold,
	}.withDefaults()
}

// ProviderHealth is a snapshot of one provider's health record.
type ProviderHealth struct {
	Provider             string
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalProbes          int64
	SuccessfulProbes     int64
	Uptime               float64 // fraction of successful probes
	AverageLatency       time.Duration
	LastProbe            time.Time
	LastErr              error
}

type healthRecord struct {
	healthy              bool
	consecutiveFailures  int
	consecutiveSuccesses int
	totalProbes          int64
	successfulProbes     int64
	avgLatency           time.Duration
	lastProbe            time.Time
	lastErr              error
}

// HealthChecker actively probes registered providers on a fixed interval
// and flips a per-provider health flag after consecutive streaks. It runs
// independently of caller traffic, so a provider can be marked unhealthy
// (or recovered) without waiting for live failures.
type HealthChecker struct {
	cfg      HealthConfig
	registry *Registry

	mu      sync.RWMutex
	records map[string]*healthRecord

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewHealthChecker creates a checker over the given registry.
func NewHealthChecker(cfg HealthConfig, registry *Registry) *HealthChecker {
	return &HealthChecker{
		cfg:      cfg.withDefaults(),
		registry: registry,
		records:  make(map[string]*healthRecord),
	}
}

// Start performs one immediate sweep and then probes on the interval.
func (h *HealthChecker) Start() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)

		h.CheckAll(context.Background())

		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.CheckAll(context.Background())
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop halts the background prober and releases its timer.
func (h *HealthChecker) Stop() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stop)
	<-h.done
}

// CheckAll probes every registered provider concurrently, each bounded by
// the probe timeout.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var g errgroup.Group
	for _, p := range h.registry.List() {
		p := p
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			defer cancel()

			start := time.Now()
			res := p.ProbeHealth(probeCtx)
			if res.Latency == 0 {
				res.Latency = time.Since(start)
			}
			h.Observe(p.Name(), res.Healthy, res.Latency, res.Err)
			return nil
		})
	}
	_ = g.Wait()
}

// Observe records one probe or live-traffic outcome for a provider and
// applies the streak thresholds.
func (h *HealthChecker) Observe(provider string, healthy bool, latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.getOrCreateLocked(provider)
	rec.totalProbes++
	rec.lastProbe = time.Now()
	rec.lastErr = err

	// Running average keeps the record O(1).
	rec.avgLatency += (latency - rec.avgLatency) / time.Duration(rec.totalProbes)

	if healthy {
		rec.successfulProbes++
		rec.consecutiveSuccesses++
		rec.consecutiveFailures = 0
		if !rec.healthy && rec.consecutiveSuccesses >= h.cfg.RecoveryThreshold {
			rec.healthy = true
		}
	} else {
		rec.consecutiveFailures++
		rec.consecutiveSuccesses = 0
		if rec.healthy && rec.consecutiveFailures >= h.cfg.FailureThreshold {
			rec.healthy = false
		}
	}
}

// IsHealthy reports the current health flag. Unknown providers are healthy.
func (h *HealthChecker) IsHealthy(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.records[provider]
	if !ok {
		return true
	}
	return rec.healthy
}

// HealthyProviders returns the registered providers currently healthy.
func (h *HealthChecker) HealthyProviders() []string {
	return h.providersByHealth(true)
}

// UnhealthyProviders returns the registered providers currently unhealthy.
func (h *HealthChecker) UnhealthyProviders() []string {
	return h.providersByHealth(false)
}

func (h *HealthChecker) providersByHealth(healthy bool) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for _, p := range h.registry.List() {
		if h.isHealthyLocked(p.Name()) == healthy {
			out = append(out, p.Name())
		}
	}
	return out
}

func (h *HealthChecker) isHealthyLocked(provider string) bool {
	rec, ok := h.records[provider]
	if !ok {
		return true
	}
	return rec.healthy
}

// SetProviderHealth forces a provider's health flag. The consecutive
// counters are seeded so the override is consistent with the natural
// transition logic: an immediately-following contrary streak still has to
// cross the full threshold.
func (h *HealthChecker) SetProviderHealth(provider string, healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.getOrCreateLocked(provider)
	rec.healthy = healthy
	if healthy {
		rec.consecutiveSuccesses = h.cfg.RecoveryThreshold
		rec.consecutiveFailures = 0
	} else {
		rec.consecutiveFailures = h.cfg.FailureThreshold
		rec.consecutiveSuccesses = 0
	}
}

// Metrics returns a snapshot of every tracked provider's health record.
func (h *HealthChecker) Metrics() map[string]ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]ProviderHealth, len(h.records))
	for name, rec := range h.records {
		uptime := 0.0
		if rec.totalProbes > 0 {
			uptime = float64(rec.successfulProbes) / float64(rec.totalProbes)
		}
		out[name] = ProviderHealth{
			Provider:             name,
			Healthy:              rec.healthy,
			ConsecutiveFailures:  rec.consecutiveFailures,
			ConsecutiveSuccesses: rec.consecutiveSuccesses,
			TotalProbes:          rec.totalProbes,
			SuccessfulProbes:     rec.successfulProbes,
			Uptime:               uptime,
			AverageLatency:       rec.avgLatency,
			LastProbe:            rec.lastProbe,
			LastErr:              rec.lastErr,
		}
	}
	return out
}

func (h *HealthChecker) getOrCreateLocked(provider string) *healthRecord {
	rec, ok := h.records[provider]
	if !ok {
		rec = &healthRecord{healthy: true}
		h.records[provider] = rec
	}
	return rec
}
