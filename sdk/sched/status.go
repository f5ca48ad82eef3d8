package sched

import (
	"context"
	"sort"
	"time"
)

// AccountStatus is a point-in-time diagnostic view of one account, suitable
// for a status endpoint or log dump.
type AccountStatus struct {
	Index            int       `json:"index"`
	Enabled          bool      `json:"enabled"`
	Current          bool      `json:"current"`
	HealthScore      float64   `json:"health_score"`
	Tokens           float64   `json:"tokens"`
	RateLimited      bool      `json:"rate_limited"`
	RateLimitResetAt time.Time `json:"rate_limit_reset_at,omitzero"`
	CoolingDown      bool      `json:"cooling_down"`
	FailureStreak    int       `json:"failure_streak"`
	LastUsed         time.Time `json:"last_used,omitzero"`
}

// Snapshot reports the live state of every account, sorted by index.
func (s *Scheduler) Snapshot(ctx context.Context) ([]AccountStatus, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	current := s.current
	cooldown := make(map[int]time.Time, len(s.cooldownUntil))
	for k, v := range s.cooldownUntil {
		cooldown[k] = v
	}
	exclude := make(map[int]time.Time, len(s.excludeUntil))
	for k, v := range s.excludeUntil {
		exclude[k] = v
	}
	s.mu.Unlock()

	statuses := make([]AccountStatus, 0, len(records))
	for _, r := range records {
		reset, limited := r.nextReset(now, "")
		if until := exclude[r.Index]; now.Before(until) {
			limited = true
			if until.After(reset) {
				reset = until
			}
		}
		streak, _ := s.health.FailureStreak(r.Index)
		status := AccountStatus{
			Index:         r.Index,
			Enabled:       r.Enabled,
			Current:       r.Index == current,
			HealthScore:   s.health.Score(r.Index),
			Tokens:        s.bucket.Tokens(r.Index),
			RateLimited:   limited,
			CoolingDown:   now.Before(cooldown[r.Index]) || s.failureGateClosed(r.Index, now),
			FailureStreak: streak,
			LastUsed:      r.LastUsed,
		}
		if limited {
			status.RateLimitResetAt = reset
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Index < statuses[j].Index })
	return statuses, nil
}
