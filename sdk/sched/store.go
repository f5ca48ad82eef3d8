package sched

import (
	"context"
	"time"
)

// Record is the durable view of one account, owned by the storage
// collaborator. The scheduler reads records and writes back LastUsed and
// rate-limit reset times through the Store interface, never touching the
// underlying file or table directly.
type Record struct {
	Index    int
	Enabled  bool
	LastUsed time.Time
	// RateLimitResetTimes maps quota-group name to the moment the group's
	// upstream limit lifts.
	RateLimitResetTimes map[string]time.Time
}

// Store is the storage collaborator boundary.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	SetLastUsed(ctx context.Context, index int, at time.Time) error
	SetRateLimitReset(ctx context.Context, index int, group string, until time.Time) error
}

// rateLimitedAt reports whether the record is rate-limited at now for the
// given quota group. An empty group is conservative: any group still inside
// its reset window marks the account limited.
func (r Record) rateLimitedAt(now time.Time, group string) bool {
	if group != "" {
		return now.Before(r.RateLimitResetTimes[group])
	}
	for _, until := range r.RateLimitResetTimes {
		if now.Before(until) {
			return true
		}
	}
	return false
}

// nextReset returns the soonest future reset time for the given group (or
// any group when empty). ok is false when no future reset is recorded.
func (r Record) nextReset(now time.Time, group string) (time.Time, bool) {
	if group != "" {
		until := r.RateLimitResetTimes[group]
		return until, now.Before(until)
	}
	var soonest time.Time
	found := false
	for _, until := range r.RateLimitResetTimes {
		if !now.Before(until) {
			continue
		}
		if !found || until.Before(soonest) {
			soonest = until
			found = true
		}
	}
	return soonest, found
}
