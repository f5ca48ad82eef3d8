// Package config loads the router's YAML configuration and converts its
// scheduling block into the sched package's runtime tuning.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/router-for-me/accountsched/sdk/sched"
	"github.com/router-for-me/accountsched/sdk/sched/bucket"
	"github.com/router-for-me/accountsched/sdk/sched/health"
	"github.com/router-for-me/accountsched/sdk/sched/quotaguard"
)

// Config is the on-disk configuration document.
type Config struct {
	// AccountsFile is the JSON accounts document the file store patches.
	AccountsFile string `yaml:"accounts_file"`
	// PostgresDSN selects the PostgreSQL backend when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	Logging    Logging    `yaml:"logging"`
	Scheduling Scheduling `yaml:"scheduling"`
}

// Logging tunes log output and rotation.
type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Scheduling mirrors the recognized scheduling options. Absent values fall
// back to sched.DefaultConfig; pointer fields distinguish "unset" from an
// explicit zero or false.
type Scheduling struct {
	AccountSelectionStrategy string  `yaml:"account_selection_strategy"`
	SchedulingMode           string  `yaml:"scheduling_mode"`
	SwitchOnFirstRateLimit   *bool   `yaml:"switch_on_first_rate_limit"`
	MaxRateLimitWaitSeconds  *int    `yaml:"max_rate_limit_wait_seconds"`
	MaxCacheFirstWaitSeconds int     `yaml:"max_cache_first_wait_seconds"`
	FailureTTLSeconds        int     `yaml:"failure_ttl_seconds"`
	MaxConsecutiveFailures   int     `yaml:"max_consecutive_failures"`
	DefaultRetryAfterSeconds int     `yaml:"default_retry_after_seconds"`
	MaxBackoffSeconds        int     `yaml:"max_backoff_seconds"`
	MinHealthScore           float64 `yaml:"min_health_score"`
	HealthScore              *Health `yaml:"health_score"`
	TokenBucket              *Bucket `yaml:"token_bucket"`
	QuotaGuard               *Guard  `yaml:"quota_guard"`
}

// Health mirrors the health_score block.
type Health struct {
	Initial             float64 `yaml:"initial"`
	SuccessReward       float64 `yaml:"success_reward"`
	RateLimitPenalty    float64 `yaml:"rate_limit_penalty"`
	FailurePenalty      float64 `yaml:"failure_penalty"`
	RecoveryRatePerHour float64 `yaml:"recovery_rate_per_hour"`
	MinUsable           float64 `yaml:"min_usable"`
	MaxScore            float64 `yaml:"max_score"`
}

// Bucket mirrors the token_bucket block.
type Bucket struct {
	MaxTokens                 float64  `yaml:"max_tokens"`
	RegenerationRatePerMinute float64  `yaml:"regeneration_rate_per_minute"`
	InitialTokens             *float64 `yaml:"initial_tokens"`
}

// Guard mirrors the quota_guard block.
type Guard struct {
	Enabled                *bool `yaml:"enabled"`
	SwitchRemainingPercent int   `yaml:"switch_remaining_percent"`
	CooldownMinutes        int   `yaml:"cooldown_minutes"`
	WaitWhenNoAccount      *bool `yaml:"wait_when_no_account"`
	WaitPollSeconds        int   `yaml:"wait_poll_seconds"`
	MaxWaitSeconds         int   `yaml:"max_wait_seconds"`
	QuotaCacheTTLSeconds   int   `yaml:"quota_cache_ttl_seconds"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s failed: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", path, err)
	}
	return &cfg, nil
}

// SchedConfig converts the scheduling block to runtime tuning, filling
// anything unset from the defaults.
func (c *Config) SchedConfig() sched.Config {
	out := sched.DefaultConfig()
	if c == nil {
		return out
	}
	s := c.Scheduling

	if s.AccountSelectionStrategy != "" {
		out.Strategy = sched.Strategy(s.AccountSelectionStrategy)
	}
	if s.SchedulingMode != "" {
		out.Mode = sched.Mode(s.SchedulingMode)
	}
	if s.SwitchOnFirstRateLimit != nil {
		out.SwitchOnFirstRateLimit = *s.SwitchOnFirstRateLimit
	}
	if s.MaxRateLimitWaitSeconds != nil {
		// Zero is meaningful here: it disables the wait bound.
		out.MaxRateLimitWait = time.Duration(*s.MaxRateLimitWaitSeconds) * time.Second
	}
	if s.MaxCacheFirstWaitSeconds > 0 {
		out.MaxCacheFirstWait = time.Duration(s.MaxCacheFirstWaitSeconds) * time.Second
	}
	if s.FailureTTLSeconds > 0 {
		out.FailureTTL = time.Duration(s.FailureTTLSeconds) * time.Second
	}
	if s.MaxConsecutiveFailures > 0 {
		out.MaxConsecutiveFailures = s.MaxConsecutiveFailures
	}
	if s.DefaultRetryAfterSeconds > 0 {
		out.DefaultRetryAfter = time.Duration(s.DefaultRetryAfterSeconds) * time.Second
	}
	if s.MaxBackoffSeconds > 0 {
		out.MaxBackoff = time.Duration(s.MaxBackoffSeconds) * time.Second
	}
	if s.MinHealthScore > 0 {
		out.MinHealth = s.MinHealthScore
	}
	out.Health = schedHealth(s.HealthScore, out.Health)
	out.Bucket = schedBucket(s.TokenBucket, out.Bucket)
	out.Guard = schedGuard(s.QuotaGuard, out.Guard)
	return out
}

func schedHealth(h *Health, out health.Config) health.Config {
	if h == nil {
		return out
	}
	if h.Initial > 0 {
		out.Initial = h.Initial
	}
	if h.SuccessReward > 0 {
		out.SuccessReward = h.SuccessReward
	}
	if h.RateLimitPenalty < 0 {
		out.RateLimitPenalty = h.RateLimitPenalty
	}
	if h.FailurePenalty < 0 {
		out.FailurePenalty = h.FailurePenalty
	}
	if h.RecoveryRatePerHour > 0 {
		out.RecoveryRatePerHour = h.RecoveryRatePerHour
	}
	if h.MinUsable > 0 {
		out.MinUsable = h.MinUsable
	}
	if h.MaxScore > 0 {
		out.MaxScore = h.MaxScore
	}
	return out
}

func schedBucket(b *Bucket, out bucket.Config) bucket.Config {
	if b == nil {
		return out
	}
	if b.MaxTokens > 0 {
		out.MaxTokens = b.MaxTokens
	}
	if b.RegenerationRatePerMinute > 0 {
		out.RegenerationRatePerMinute = b.RegenerationRatePerMinute
	}
	if b.InitialTokens != nil {
		out.InitialTokens = *b.InitialTokens
	} else if b.MaxTokens > 0 {
		out.InitialTokens = b.MaxTokens
	}
	return out
}

func schedGuard(g *Guard, out quotaguard.Config) quotaguard.Config {
	if g == nil {
		return out
	}
	if g.Enabled != nil {
		out.Enabled = *g.Enabled
	}
	if g.SwitchRemainingPercent > 0 {
		out.SwitchRemainingPercent = g.SwitchRemainingPercent
	}
	if g.CooldownMinutes > 0 {
		out.CooldownMinutes = g.CooldownMinutes
	}
	if g.WaitWhenNoAccount != nil {
		out.WaitWhenNoAccount = *g.WaitWhenNoAccount
	}
	if g.WaitPollSeconds > 0 {
		out.WaitPollSeconds = g.WaitPollSeconds
	}
	if g.MaxWaitSeconds > 0 {
		out.MaxWaitSeconds = g.MaxWaitSeconds
	}
	if g.QuotaCacheTTLSeconds > 0 {
		out.CacheTTLSeconds = g.QuotaCacheTTLSeconds
	}
	return out
}
