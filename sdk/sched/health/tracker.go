// Package health tracks a decayed per-account wellness score. Failures and
// rate limits penalize the score, successes reward it, and elapsed time
// recovers it passively so penalized accounts become eligible again without
// any background timer.
package health

import (
	"math"
	"sync"
	"time"
)

// Config holds the score tuning knobs.
type Config struct {
	Initial             float64
	SuccessReward       float64
	RateLimitPenalty    float64 // negative
	FailurePenalty      float64 // negative, larger magnitude than RateLimitPenalty
	RecoveryRatePerHour float64
	MinUsable           float64
	MaxScore            float64
}

// DefaultConfig returns the tuning used when the caller supplies nothing.
func DefaultConfig() Config {
	return Config{
		Initial:             70,
		SuccessReward:       5,
		RateLimitPenalty:    -5,
		FailurePenalty:      -10,
		RecoveryRatePerHour: 2,
		MinUsable:           30,
		MaxScore:            100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxScore <= 0 {
		c.MaxScore = def.MaxScore
	}
	if c.Initial <= 0 {
		c.Initial = def.Initial
	}
	if c.SuccessReward <= 0 {
		c.SuccessReward = def.SuccessReward
	}
	if c.RateLimitPenalty >= 0 {
		c.RateLimitPenalty = def.RateLimitPenalty
	}
	if c.FailurePenalty >= 0 {
		c.FailurePenalty = def.FailurePenalty
	}
	if c.RecoveryRatePerHour <= 0 {
		c.RecoveryRatePerHour = def.RecoveryRatePerHour
	}
	if c.MinUsable <= 0 {
		c.MinUsable = def.MinUsable
	}
	return c
}

type entry struct {
	score               float64
	lastUpdated         time.Time
	lastSuccess         time.Time
	lastFailure         time.Time
	consecutiveFailures int
}

// Tracker keeps one score entry per account index. Entries are created
// lazily at the configured initial score on first access.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	entries map[int]*entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for deterministic recovery tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a Tracker with the given config.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		entries: make(map[int]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Score returns the current score for an account after applying passive
// recovery. Unknown accounts report the initial score. Recovery credits
// whole points only; the fractional remainder stays banked against the
// stored lastUpdated timestamp.
func (t *Tracker) Score(id int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return t.cfg.Initial
	}
	return t.projectedLocked(e)
}

func (t *Tracker) projectedLocked(e *entry) float64 {
	elapsed := t.now().Sub(e.lastUpdated)
	if elapsed <= 0 {
		return e.score
	}
	recovered := math.Floor(elapsed.Hours() * t.cfg.RecoveryRatePerHour)
	if recovered <= 0 {
		return e.score
	}
	return math.Min(t.cfg.MaxScore, e.score+recovered)
}

func (t *Tracker) getOrCreateLocked(id int) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{score: t.cfg.Initial, lastUpdated: t.now()}
		t.entries[id] = e
	}
	return e
}

// RecordSuccess rewards the account and clears its failure streak.
func (t *Tracker) RecordSuccess(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(id)
	now := t.now()
	e.score = math.Min(t.cfg.MaxScore, t.projectedLocked(e)+t.cfg.SuccessReward)
	e.consecutiveFailures = 0
	e.lastUpdated = now
	e.lastSuccess = now
}

// RecordRateLimit applies the rate-limit penalty and extends the failure streak.
func (t *Tracker) RecordRateLimit(id int) {
	t.penalize(id, t.cfg.RateLimitPenalty)
}

// RecordFailure applies the failure penalty (auth/network class errors) and
// extends the failure streak.
func (t *Tracker) RecordFailure(id int) {
	t.penalize(id, t.cfg.FailurePenalty)
}

func (t *Tracker) penalize(id int, penalty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(id)
	now := t.now()
	e.score = math.Max(0, t.projectedLocked(e)+penalty)
	e.consecutiveFailures++
	e.lastUpdated = now
	e.lastFailure = now
}

// Usable reports whether the account's score clears the configured floor.
func (t *Tracker) Usable(id int) bool {
	return t.Score(id) >= t.cfg.MinUsable
}

// FailureStreak returns the consecutive failure count and the time of the
// most recent failure for an account.
func (t *Tracker) FailureStreak(id int) (int, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return 0, time.Time{}
	}
	return e.consecutiveFailures, e.lastFailure
}

// Reset drops all state for an account. Used when the account is removed.
func (t *Tracker) Reset(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Snapshot describes one account's current health for diagnostics.
type Snapshot struct {
	Score               float64
	ConsecutiveFailures int
	LastSuccess         time.Time
}

// GetSnapshot materializes recovery-applied scores for every tracked account.
// Observability only; selection never reads it.
func (t *Tracker) GetSnapshot() map[int]Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]Snapshot, len(t.entries))
	for id, e := range t.entries {
		out[id] = Snapshot{
			Score:               t.projectedLocked(e),
			ConsecutiveFailures: e.consecutiveFailures,
			LastSuccess:         e.lastSuccess,
		}
	}
	return out
}

// MinUsable exposes the configured usability floor.
func (t *Tracker) MinUsable() float64 { return t.cfg.MinUsable }

// MaxScore exposes the configured score ceiling.
func (t *Tracker) MaxScore() float64 { return t.cfg.MaxScore }
