package sched

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/accountsched/internal/util"
	"github.com/router-for-me/accountsched/sdk/sched/selection"
)

// realSleep blocks for d or until the context is done.
func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// graceWait holds the first selection after a rate-limit switch for a short
// fixed delay so in-flight requests against the old account settle before the
// pool shrinks.
func (s *Scheduler) graceWait(ctx context.Context) error {
	s.mu.Lock()
	last := s.lastRateLimit
	s.lastRateLimit = time.Time{}
	s.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	remaining := rateLimitGrace - s.now().Sub(last)
	if remaining <= 0 {
		return nil
	}
	return s.sleep(ctx, remaining)
}

// cacheFirstWait holds for the current account's rate-limit reset when it
// lands inside the configured bound, so the upstream prompt cache for that
// account stays warm instead of switching away. Best effort: any store error
// or a reset past the bound falls through to normal selection.
func (s *Scheduler) cacheFirstWait(ctx context.Context, group, trace string) {
	if s.cfg.Mode != ModeCacheFirst {
		return
	}
	s.mu.Lock()
	target := s.current
	if target == selection.NoCurrent {
		target = s.previous
	}
	s.mu.Unlock()
	if target == selection.NoCurrent {
		return
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return
	}
	now := s.now()
	for _, r := range records {
		if r.Index != target {
			continue
		}
		if !r.Enabled || !r.rateLimitedAt(now, group) {
			return
		}
		reset, ok := r.nextReset(now, group)
		if !ok {
			return
		}
		wait := reset.Sub(now)
		if wait > s.cfg.MaxCacheFirstWait {
			log.Debugf("scheduler: account %d resets in %s, past the cache-first bound, switching (trace=%s)",
				target, wait.Round(time.Second), trace)
			return
		}
		log.Infof("scheduler: holding %s for account %d to keep its prompt cache warm (trace=%s)",
			wait.Round(time.Second), target, trace)
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
		// The reset lapsed while we held; restore stickiness to the account
		// we waited for so the strategy prefers it again.
		s.mu.Lock()
		if s.current == selection.NoCurrent {
			s.current = target
		}
		s.mu.Unlock()
		return
	}
}

// waitForAnyAccount loops until some account becomes selectable again,
// polling with jittered exponential backoff. Entered only after a pick found
// every account excluded.
func (s *Scheduler) waitForAnyAccount(ctx context.Context, group, trace string) (int, error) {
	if !s.cfg.Guard.WaitWhenNoAccount {
		return selection.NoCurrent, ErrNoAccountAvailable
	}

	bound := s.waitBound()
	poll := time.Duration(s.cfg.Guard.WaitPollSeconds) * time.Second
	start := s.now()
	log.Warnf("scheduler: all accounts excluded, waiting up to %s (trace=%s)", bound, trace)

	for attempt := 0; ; attempt++ {
		elapsed := s.now().Sub(start)
		if bound > 0 && elapsed >= bound {
			return selection.NoCurrent, &WaitTimeoutError{Elapsed: elapsed, Limit: bound}
		}
		delay := util.Backoff(s.rng, attempt, poll, s.cfg.MaxBackoff)
		if bound > 0 && delay > bound-elapsed {
			delay = bound - elapsed
		}
		if err := s.sleep(ctx, delay); err != nil {
			return selection.NoCurrent, err
		}

		idx, err := s.pickOnce(ctx, group, trace)
		if err == nil {
			log.Infof("scheduler: account %d became available after %s (trace=%s)",
				idx, s.now().Sub(start).Round(time.Second), trace)
			return idx, nil
		}
		if !errors.Is(err, ErrNoAccountAvailable) {
			return selection.NoCurrent, err
		}
	}
}

// waitBound is the overall cap on the wait loop: the smaller of the two
// configured limits, ignoring whichever is unset. Zero means unbounded.
func (s *Scheduler) waitBound() time.Duration {
	bound := s.cfg.MaxRateLimitWait
	guard := time.Duration(s.cfg.Guard.MaxWaitSeconds) * time.Second
	if guard > 0 && (bound <= 0 || guard < bound) {
		bound = guard
	}
	return bound
}
