package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/accountsched/sdk/sched"
)

const sampleYAML = `
accounts_file: accounts.json
logging:
  level: debug
scheduling:
  account_selection_strategy: priority-queue
  scheduling_mode: cache_first
  switch_on_first_rate_limit: false
  max_rate_limit_wait_seconds: 0
  max_cache_first_wait_seconds: 90
  default_retry_after_seconds: 45
  min_health_score: 40
  health_score:
    initial: 80
    rate_limit_penalty: -8
  token_bucket:
    max_tokens: 120
  quota_guard:
    enabled: false
    switch_remaining_percent: 15
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_SchedConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := cfg.SchedConfig()
	if got.Strategy != sched.StrategyPriorityQueue {
		t.Fatalf("Strategy = %q, want priority-queue", got.Strategy)
	}
	if got.Mode != sched.ModeCacheFirst {
		t.Fatalf("Mode = %q, want cache_first", got.Mode)
	}
	if got.SwitchOnFirstRateLimit {
		t.Fatalf("SwitchOnFirstRateLimit = true, want explicit false")
	}
	if got.MaxRateLimitWait != 0 {
		t.Fatalf("MaxRateLimitWait = %v, want 0 (unbounded)", got.MaxRateLimitWait)
	}
	if got.MaxCacheFirstWait != 90*time.Second {
		t.Fatalf("MaxCacheFirstWait = %v, want 90s", got.MaxCacheFirstWait)
	}
	if got.DefaultRetryAfter != 45*time.Second {
		t.Fatalf("DefaultRetryAfter = %v, want 45s", got.DefaultRetryAfter)
	}
	if got.MinHealth != 40 {
		t.Fatalf("MinHealth = %v, want 40", got.MinHealth)
	}
	if got.Health.Initial != 80 || got.Health.RateLimitPenalty != -8 {
		t.Fatalf("Health = %+v, want initial 80 penalty -8", got.Health)
	}
	// Unset health fields keep their defaults.
	if got.Health.FailurePenalty != sched.DefaultConfig().Health.FailurePenalty {
		t.Fatalf("Health.FailurePenalty = %v, want default", got.Health.FailurePenalty)
	}
	if got.Bucket.MaxTokens != 120 || got.Bucket.InitialTokens != 120 {
		t.Fatalf("Bucket = %+v, want max and initial 120", got.Bucket)
	}
	if got.Guard.Enabled {
		t.Fatalf("Guard.Enabled = true, want explicit false")
	}
	if got.Guard.SwitchRemainingPercent != 15 {
		t.Fatalf("Guard.SwitchRemainingPercent = %d, want 15", got.Guard.SwitchRemainingPercent)
	}
}

func TestSchedConfig_EmptyDocumentUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := cfg.SchedConfig()
	want := sched.DefaultConfig()
	if got.Strategy != want.Strategy || got.Mode != want.Mode {
		t.Fatalf("defaults = %q/%q, want %q/%q", got.Strategy, got.Mode, want.Strategy, want.Mode)
	}
	if !got.SwitchOnFirstRateLimit {
		t.Fatalf("SwitchOnFirstRateLimit = false, want default true")
	}
	if !got.Guard.Enabled || !got.Guard.WaitWhenNoAccount {
		t.Fatalf("Guard = %+v, want default enabled and waiting", got.Guard)
	}
}

func TestLoad_RejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Load(writeConfig(t, ":\nnot yaml")); err == nil {
		t.Fatalf("Load(garbage) error = nil, want error")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, sampleYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	updated := sampleYAML + "  max_backoff_seconds: 120\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if got := cfg.SchedConfig().MaxBackoff; got != 120*time.Second {
			t.Fatalf("MaxBackoff after reload = %v, want 120s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed within 5s")
	}
}

func TestWatch_SurvivesWriteBursts(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, sampleYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	if err := Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// A burst of writes exercises repeated debounce timer reuse; the
	// watcher must keep delivering reloads afterwards.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload after burst within 5s")
	}

	updated := sampleYAML + "  max_backoff_seconds: 75\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.SchedConfig().MaxBackoff == 75*time.Second {
				return
			}
		case <-deadline:
			t.Fatalf("updated config not observed within 5s")
		}
	}
}
