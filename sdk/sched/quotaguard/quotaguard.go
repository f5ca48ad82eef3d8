// Package quotaguard layers a proactive capacity check in front of account
// selection. It caches upstream quota summaries per account and produces a
// switch/no-switch verdict before dispatch, so the scheduler can leave an
// account before the upstream rejects with a long quota-reset penalty.
package quotaguard

import (
	"context"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// GroupQuota reports the state of one quota group (a named upstream capacity
// pool, typically a model family).
type GroupQuota struct {
	// RemainingFraction is the fraction of the pool still available in
	// [0, 1]. Nil when the upstream did not report one for this group.
	RemainingFraction *float64
	ModelCount        int
}

// Summary is the ephemeral quota snapshot fetched for one account.
type Summary struct {
	Groups     map[string]GroupQuota
	ModelCount int
}

// Config holds the guard tuning knobs.
type Config struct {
	Enabled                bool
	SwitchRemainingPercent int
	CooldownMinutes        int
	WaitWhenNoAccount      bool
	WaitPollSeconds        int
	MaxWaitSeconds         int
	CacheTTLSeconds        int
}

// DefaultConfig returns the guard tuning used when the caller supplies nothing.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		SwitchRemainingPercent: 10,
		CooldownMinutes:        5,
		WaitWhenNoAccount:      true,
		WaitPollSeconds:        10,
		MaxWaitSeconds:         300,
		CacheTTLSeconds:        60,
	}
}

// FetchFunc retrieves a fresh quota summary for an account. Supplied by the
// provider-API collaborator. A nil summary with nil error means the upstream
// had no quota data.
type FetchFunc func(ctx context.Context, accountIndex int) (*Summary, error)

// Decision is the preflight verdict.
type Decision struct {
	ShouldSwitch     bool
	RemainingPercent *int
	Reason           string
}

// MinRemainingPercent collects every group reporting a remaining fraction
// and returns the minimum as a rounded percentage. The minimum, not the
// average, decides: one exhausted group fails requests regardless of the
// others' health. ok is false when no group reports a fraction.
func MinRemainingPercent(s Summary) (int, bool) {
	found := false
	lowest := 0.0
	for _, g := range s.Groups {
		if g.RemainingFraction == nil {
			continue
		}
		if !found || *g.RemainingFraction < lowest {
			lowest = *g.RemainingFraction
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return int(math.Round(lowest * 100)), true
}

// Preflight checks the cached quota for an account, fetching on miss, and
// decides whether the scheduler should switch away before dispatch. A fetch
// failure is logged and degrades to no-switch: the guard must never block or
// misdirect traffic, reactive rate-limit handling still applies.
func Preflight(ctx context.Context, accountIndex int, cache *Cache, cfg Config, fetch FetchFunc) Decision {
	summary, ok := cache.Get(accountIndex)
	if !ok {
		if fetch == nil {
			return Decision{}
		}
		fetched, err := fetch(ctx, accountIndex)
		if err != nil {
			log.WithError(err).Warnf("quota guard: fetch failed (account=%d)", accountIndex)
			return Decision{}
		}
		if fetched == nil {
			return Decision{}
		}
		summary = *fetched
		cache.Set(accountIndex, summary)
	}

	percent, ok := MinRemainingPercent(summary)
	if !ok {
		return Decision{}
	}
	if percent <= cfg.SwitchRemainingPercent {
		return Decision{
			ShouldSwitch:     true,
			RemainingPercent: &percent,
			Reason:           fmt.Sprintf("remaining quota %d%% at or below switch threshold %d%%", percent, cfg.SwitchRemainingPercent),
		}
	}
	return Decision{RemainingPercent: &percent}
}
