// Package sched is the scheduling core of the multi-account request router.
// Given a pool of upstream accounts, each subject to independent rate limits
// and quotas, it decides per outbound request which account to use, tracks
// per-account health and capacity over time, and proactively avoids quota
// exhaustion before the upstream rejects a request.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/accountsched/internal/util"
	"github.com/router-for-me/accountsched/sdk/sched/bucket"
	"github.com/router-for-me/accountsched/sdk/sched/health"
	"github.com/router-for-me/accountsched/sdk/sched/quotaguard"
	"github.com/router-for-me/accountsched/sdk/sched/selection"
)

// DefaultGroup keys rate-limit reset times when the caller reports a rate
// limit without naming a quota group.
const DefaultGroup = "default"

// rateLimitGrace is the short fixed delay before a rate-limited account is
// excluded when switch_on_first_rate_limit is enabled.
const rateLimitGrace = time.Second

// Scheduler owns the tracker state for one account pool. All decayed state
// is process-lifetime only; durable timestamps live behind the Store.
// Construct one per pool; independent instances never share state.
type Scheduler struct {
	cfg    Config
	store  Store
	fetch  quotaguard.FetchFunc
	health *health.Tracker
	bucket *bucket.Tracker
	cache  *quotaguard.Cache
	now    func() time.Time
	rng    util.Rand

	hybrid   *selection.HybridSelector
	priority *selection.PriorityQueueSelector
	rr       *selection.RoundRobinSelector
	sticky   *selection.StickySelector

	// sleep is injectable so the wait loops are deterministic under test.
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	current       int
	previous      int
	cooldownUntil map[int]time.Time
	excludeUntil  map[int]time.Time
	lastRateLimit time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand overrides the random source used for jitter and the
// priority-queue draw.
func WithRand(rng util.Rand) Option {
	return func(s *Scheduler) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithQuotaFetcher supplies the quota-fetch collaborator used by the
// preflight guard. Without it the guard is skipped.
func WithQuotaFetcher(fetch quotaguard.FetchFunc) Option {
	return func(s *Scheduler) { s.fetch = fetch }
}

// New constructs a Scheduler over the given store.
func New(cfg Config, store Store, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("sched: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:           cfg,
		store:         store,
		now:           time.Now,
		rng:           util.SystemRand(),
		sleep:         realSleep,
		current:       selection.NoCurrent,
		previous:      selection.NoCurrent,
		cooldownUntil: make(map[int]time.Time),
		excludeUntil:  make(map[int]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.health = health.NewTracker(cfg.Health, health.WithClock(s.now))
	s.bucket = bucket.NewTracker(cfg.Bucket, bucket.WithClock(s.now))
	s.cache = quotaguard.NewCache(time.Duration(cfg.Guard.CacheTTLSeconds)*time.Second, quotaguard.WithClock(s.now))
	s.hybrid = &selection.HybridSelector{MinHealth: cfg.MinHealth}
	s.priority = &selection.PriorityQueueSelector{MinHealth: cfg.MinHealth, Rand: s.rng}
	s.rr = &selection.RoundRobinSelector{}
	s.sticky = &selection.StickySelector{Fallback: s.hybrid}
	return s, nil
}

// QuotaCache exposes the guard cache so a background poller can keep it warm.
func (s *Scheduler) QuotaCache() *quotaguard.Cache { return s.cache }

// Pick selects the account for the next request. It returns the account
// index, ErrNoAccountAvailable when waiting is disabled and every account is
// excluded, or a *WaitTimeoutError when the wait bound lapses. The result is
// advisory except for the token reservation it carries; callers that end up
// not dispatching should Refund.
func (s *Scheduler) Pick(ctx context.Context) (int, error) {
	return s.PickForGroup(ctx, "")
}

// PickForGroup is Pick scoped to one quota group: only that group's reset
// time excludes an account. An empty group is conservative and treats any
// unexpired reset as exclusion.
func (s *Scheduler) PickForGroup(ctx context.Context, group string) (int, error) {
	trace := uuid.NewString()

	if err := s.graceWait(ctx); err != nil {
		return selection.NoCurrent, err
	}
	s.cacheFirstWait(ctx, group, trace)

	idx, err := s.pickOnce(ctx, group, trace)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, ErrNoAccountAvailable) {
		return selection.NoCurrent, err
	}
	return s.waitForAnyAccount(ctx, group, trace)
}

// Report feeds a request outcome back into the trackers and the store.
func (s *Scheduler) Report(ctx context.Context, o Outcome) error {
	switch o.Kind {
	case OutcomeSuccess:
		return s.reportSuccess(ctx, o)
	case OutcomeRateLimited:
		return s.reportRateLimit(ctx, o)
	case OutcomeFailure:
		s.health.RecordFailure(o.Index)
		streak, _ := s.health.FailureStreak(o.Index)
		log.Debugf("scheduler: failure reported (account=%d streak=%d)", o.Index, streak)
		return nil
	default:
		return errors.New("sched: unknown outcome kind")
	}
}

// Refund returns the token reserved by a Pick whose request was never
// dispatched, e.g. when a preflight verdict redirected the caller.
func (s *Scheduler) Refund(index int) {
	s.bucket.Refund(index, 1)
}

// Forget drops all tracker state for a removed account.
func (s *Scheduler) Forget(index int) {
	s.health.Reset(index)
	s.bucket.Reset(index)
	s.cache.Invalidate(index)
	s.mu.Lock()
	delete(s.cooldownUntil, index)
	delete(s.excludeUntil, index)
	if s.current == index {
		s.current = selection.NoCurrent
	}
	if s.previous == index {
		s.previous = selection.NoCurrent
	}
	s.mu.Unlock()
}

// Current returns the most recently selected account index, or
// selection.NoCurrent.
func (s *Scheduler) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) reportSuccess(ctx context.Context, o Outcome) error {
	s.health.RecordSuccess(o.Index)
	if err := s.store.SetLastUsed(ctx, o.Index, s.now()); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) reportRateLimit(ctx context.Context, o Outcome) error {
	s.health.RecordRateLimit(o.Index)
	delay := o.RetryAfter
	if delay <= 0 {
		delay = s.cfg.DefaultRetryAfter
	}
	group := o.Group
	if group == "" {
		group = DefaultGroup
	}
	now := s.now()
	if err := s.store.SetRateLimitReset(ctx, o.Index, group, now.Add(delay)); err != nil {
		return err
	}
	// The cached quota snapshot no longer reflects reality.
	s.cache.Invalidate(o.Index)

	if s.cfg.SwitchOnFirstRateLimit {
		s.mu.Lock()
		s.excludeUntil[o.Index] = now.Add(delay)
		if s.current == o.Index {
			s.current = selection.NoCurrent
			s.previous = o.Index
		}
		s.lastRateLimit = now
		s.mu.Unlock()
	}
	log.Infof("scheduler: rate limit reported (account=%d group=%s reset_in=%s)", o.Index, group, delay)
	return nil
}

// pickOnce runs one Selecting -> Preflight -> reservation cycle.
func (s *Scheduler) pickOnce(ctx context.Context, group, trace string) (int, error) {
	accounts, err := s.snapshot(ctx, group)
	if err != nil {
		return selection.NoCurrent, err
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if demoted := s.preflightDemote(ctx, accounts, current, trace); demoted {
		current = selection.NoCurrent
		accounts, err = s.snapshot(ctx, group)
		if err != nil {
			return selection.NoCurrent, err
		}
	}

	// Strategies without a token filter (round-robin, sticky) can pick an
	// account whose bucket is empty; retry with that account excluded
	// before treating the pool as exhausted.
	pool := accounts
	var idx int
	for {
		picked, errPick := s.selector().Pick(pool, s.bucket, current, s.now())
		if errPick != nil {
			if errors.Is(errPick, selection.ErrNoCandidates) {
				return selection.NoCurrent, ErrNoAccountAvailable
			}
			return selection.NoCurrent, errPick
		}
		if s.bucket.Consume(picked, 1) {
			idx = picked
			break
		}
		log.Debugf("scheduler: account %d selected but out of tokens (trace=%s)", picked, trace)
		pool = withoutAccount(pool, picked)
		if len(pool) == 0 {
			return selection.NoCurrent, ErrNoAccountAvailable
		}
	}

	s.mu.Lock()
	if s.current != idx && s.current != selection.NoCurrent {
		log.Debugf("scheduler: switching account %d -> %d (trace=%s)", s.current, idx, trace)
	}
	s.current = idx
	s.mu.Unlock()
	return idx, nil
}

// preflightDemote runs the quota guard against the current account and, on a
// switch verdict, puts it into cooldown. Returns true when the current
// account was demoted.
func (s *Scheduler) preflightDemote(ctx context.Context, accounts []selection.Account, current int, trace string) bool {
	if !s.cfg.Guard.Enabled || s.fetch == nil || current == selection.NoCurrent {
		return false
	}
	active := false
	for _, a := range accounts {
		if a.Index == current && a.Enabled && !a.RateLimited && !a.CoolingDown {
			active = true
			break
		}
	}
	if !active {
		return false
	}

	decision := quotaguard.Preflight(ctx, current, s.cache, s.cfg.Guard, s.fetch)
	if !decision.ShouldSwitch {
		return false
	}
	cooldown := time.Duration(s.cfg.Guard.CooldownMinutes) * time.Minute
	s.mu.Lock()
	s.cooldownUntil[current] = s.now().Add(cooldown)
	if s.current == current {
		s.current = selection.NoCurrent
	}
	s.mu.Unlock()
	log.Infof("scheduler: demoting account %d before dispatch: %s (trace=%s)", current, decision.Reason, trace)
	return true
}

func withoutAccount(accounts []selection.Account, index int) []selection.Account {
	out := make([]selection.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Index != index {
			out = append(out, a)
		}
	}
	return out
}

// snapshot builds the live metrics view the strategies select over.
func (s *Scheduler) snapshot(ctx context.Context, group string) ([]selection.Account, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	cooldown := make(map[int]time.Time, len(s.cooldownUntil))
	for k, v := range s.cooldownUntil {
		cooldown[k] = v
	}
	exclude := make(map[int]time.Time, len(s.excludeUntil))
	for k, v := range s.excludeUntil {
		exclude[k] = v
	}
	s.mu.Unlock()

	accounts := make([]selection.Account, 0, len(records))
	for _, r := range records {
		a := selection.Account{
			Index:       r.Index,
			LastUsed:    r.LastUsed,
			Enabled:     r.Enabled,
			RateLimited: r.rateLimitedAt(now, group) || now.Before(exclude[r.Index]),
			CoolingDown: now.Before(cooldown[r.Index]) || s.failureGateClosed(r.Index, now),
			HealthScore: s.health.Score(r.Index),
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// failureGateClosed reports whether the account's failure streak keeps it
// unusable: the streak exceeded the bound and the failure TTL has not lapsed
// since the last failure. The health penalty itself decays via score
// recovery, not a counter reset.
func (s *Scheduler) failureGateClosed(index int, now time.Time) bool {
	streak, last := s.health.FailureStreak(index)
	if streak <= s.cfg.MaxConsecutiveFailures {
		return false
	}
	return now.Sub(last) < s.cfg.FailureTTL
}

func (s *Scheduler) selector() selection.Selector {
	if s.cfg.Mode == ModePerformanceFirst {
		return s.rr
	}
	switch s.cfg.Strategy {
	case StrategySticky:
		return s.sticky
	case StrategyRoundRobin:
		return s.rr
	case StrategyPriorityQueue:
		return s.priority
	case StrategyHybrid:
		return s.hybrid
	default:
		return s.hybrid
	}
}
