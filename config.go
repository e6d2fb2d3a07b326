package gatekeep

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the provider-access layer.
type Config struct {
	Providers   []ProviderConfig   `yaml:"providers"`
	Breaker     BreakerSettings    `yaml:"circuit_breaker"`
	Failover    FailoverSettings   `yaml:"failover"`
	HealthCheck HealthSettings     `yaml:"health_check"`
	Queue       QueueSettings      `yaml:"queue"`
}

// ProviderConfig configures the limits applied to a single provider.
type ProviderConfig struct {
	ID         string                 `yaml:"id"`
	Auth       Auth                   `yaml:"auth"`
	RateLimits RateLimitSettings      `yaml:"rate_limits"`
	Quotas     map[string]QuotaLimits `yaml:"quotas"` // keyed by window: hour, day, month
}

// RateLimitSettings defines per-window throughput ceilings.
// A zero value means the window is unlimited.
type RateLimitSettings struct {
	CallsPerMinute int64 `yaml:"calls_per_minute"`
	CallsPerHour   int64 `yaml:"calls_per_hour"`
	CallsPerDay    int64 `yaml:"calls_per_day"`
	UnitsPerMinute int64 `yaml:"units_per_minute"`
	UnitsPerHour   int64 `yaml:"units_per_hour"`
	UnitsPerDay    int64 `yaml:"units_per_day"`
}

// QuotaLimits defines business/cost ceilings for one window.
// A zero value means the metric is unlimited.
type QuotaLimits struct {
	MaxCalls int64   `yaml:"max_calls"`
	MaxUnits int64   `yaml:"max_units"`
	MaxCost  float64 `yaml:"max_cost"`
}

// BreakerSettings configures the per-provider circuit breakers.
type BreakerSettings struct {
	FailureThreshold  int   `yaml:"failure_threshold"`
	RecoveryTimeoutMs int64 `yaml:"recovery_timeout_ms"`
	SuccessThreshold  int   `yaml:"success_threshold"`
	SlidingWindowMs   int64 `yaml:"sliding_window_ms"`
}

// FailoverSettings configures the failover orchestrator.
type FailoverSettings struct {
	MaxTotalAttempts     int      `yaml:"max_total_attempts"`
	InterProviderDelayMs int64    `yaml:"inter_provider_delay_ms"`
	FallbackOrder        []string `yaml:"fallback_order"`
}

// HealthSettings configures the background health checker.
type HealthSettings struct {
	IntervalMs        int64 `yaml:"interval_ms"`
	ProbeTimeoutMs    int64 `yaml:"probe_timeout_ms"`
	FailureThreshold  int   `yaml:"failure_threshold"`
	RecoveryThreshold int   `yaml:"recovery_threshold"`
}

// QueueSettings configures the deferred-execution request queue.
type QueueSettings struct {
	Capacity      int   `yaml:"capacity"`
	PacingDelayMs int64 `yaml:"pacing_delay_ms"`
	MaxWaitMs     int64 `yaml:"max_wait_ms"`
}

// Quota window names recognized in ProviderConfig.Quotas.
const (
	WindowHour  = "hour"
	WindowDay   = "day"
	WindowMonth = "month"
)

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gatekeep: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("gatekeep: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("gatekeep: config: at least one provider is required")
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("gatekeep: config: providers[%d]: id is required", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("gatekeep: config: duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true

		for window := range p.Quotas {
			if window != WindowHour && window != WindowDay && window != WindowMonth {
				return fmt.Errorf("gatekeep: config: provider %s: unknown quota window %q", p.ID, window)
			}
		}
	}

	for _, id := range c.Failover.FallbackOrder {
		if !ids[id] {
			return fmt.Errorf("gatekeep: config: fallback_order references unknown provider %q", id)
		}
	}

	if c.Breaker.FailureThreshold < 0 || c.Breaker.SuccessThreshold < 0 {
		return fmt.Errorf("gatekeep: config: circuit_breaker thresholds must not be negative")
	}
	if c.Failover.MaxTotalAttempts < 0 {
		return fmt.Errorf("gatekeep: config: failover.max_total_attempts must not be negative")
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("gatekeep: config: queue.capacity must not be negative")
	}

	return nil
}

// quotaWindowInterval returns the duration of a named quota window.
func quotaWindowInterval(window string) time.Duration {
	switch window {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
