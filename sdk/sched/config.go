package sched

import (
	"fmt"
	"time"

	"github.com/router-for-me/accountsched/sdk/sched/bucket"
	"github.com/router-for-me/accountsched/sdk/sched/health"
	"github.com/router-for-me/accountsched/sdk/sched/quotaguard"
)

// Strategy names an account selection policy.
type Strategy string

const (
	StrategySticky        Strategy = "sticky"
	StrategyRoundRobin    Strategy = "round-robin"
	StrategyHybrid        Strategy = "hybrid"
	StrategyPriorityQueue Strategy = "priority-queue"
)

// Mode governs behavior when the preferred account is excluded.
type Mode string

const (
	// ModeCacheFirst waits for the most-soon-to-reset account before
	// switching, preserving prompt-cache locality.
	ModeCacheFirst Mode = "cache_first"
	// ModeBalance switches immediately to any non-excluded account.
	ModeBalance Mode = "balance"
	// ModePerformanceFirst ignores stickiness and always round-robins.
	ModePerformanceFirst Mode = "performance_first"
)

// Config holds the orchestrator tuning knobs.
type Config struct {
	Strategy               Strategy
	Mode                   Mode
	SwitchOnFirstRateLimit bool
	// MaxRateLimitWait bounds the wait-for-account loop. Zero means
	// unbounded.
	MaxRateLimitWait  time.Duration
	MaxCacheFirstWait time.Duration
	// FailureTTL keeps an account excluded after its failure streak
	// exceeds MaxConsecutiveFailures, until the TTL lapses since the last
	// failure.
	FailureTTL             time.Duration
	MaxConsecutiveFailures int
	DefaultRetryAfter      time.Duration
	MaxBackoff             time.Duration
	// MinHealth is the health floor applied by the selection filters.
	MinHealth float64

	Health health.Config
	Bucket bucket.Config
	Guard  quotaguard.Config
}

// DefaultConfig returns the orchestrator tuning used when the caller
// supplies nothing.
func DefaultConfig() Config {
	return Config{
		Strategy:               StrategyHybrid,
		Mode:                   ModeBalance,
		SwitchOnFirstRateLimit: true,
		MaxRateLimitWait:       30 * time.Minute,
		MaxCacheFirstWait:      2 * time.Minute,
		FailureTTL:             5 * time.Minute,
		MaxConsecutiveFailures: 3,
		DefaultRetryAfter:      60 * time.Second,
		MaxBackoff:             60 * time.Second,
		MinHealth:              50,
		Health:                 health.DefaultConfig(),
		Bucket:                 bucket.DefaultConfig(),
		Guard:                  quotaguard.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxCacheFirstWait <= 0 {
		c.MaxCacheFirstWait = def.MaxCacheFirstWait
	}
	if c.FailureTTL <= 0 {
		c.FailureTTL = def.FailureTTL
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MinHealth <= 0 {
		c.MinHealth = def.MinHealth
	}
	if c.Guard.WaitPollSeconds <= 0 {
		c.Guard.WaitPollSeconds = def.Guard.WaitPollSeconds
	}
	if c.Guard.CacheTTLSeconds <= 0 {
		c.Guard.CacheTTLSeconds = def.Guard.CacheTTLSeconds
	}
	return c
}

// Validate rejects unknown strategy and mode names.
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategySticky, StrategyRoundRobin, StrategyHybrid, StrategyPriorityQueue:
	default:
		return fmt.Errorf("sched: unknown account selection strategy %q", c.Strategy)
	}
	switch c.Mode {
	case "", ModeCacheFirst, ModeBalance, ModePerformanceFirst:
	default:
		return fmt.Errorf("sched: unknown scheduling mode %q", c.Mode)
	}
	return nil
}
