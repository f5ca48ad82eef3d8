// Package bucket implements a per-account token bucket for client-side
// admission control. Each account regenerates capacity independently, so a
// burst against one account cannot starve another.
package bucket

import (
	"math"
	"sync"
	"time"
)

// Config holds the bucket tuning knobs.
type Config struct {
	MaxTokens                 float64
	RegenerationRatePerMinute float64
	InitialTokens             float64
}

// DefaultConfig returns the tuning used when the caller supplies nothing.
func DefaultConfig() Config {
	return Config{
		MaxTokens:                 50,
		RegenerationRatePerMinute: 5,
		InitialTokens:             50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.RegenerationRatePerMinute <= 0 {
		c.RegenerationRatePerMinute = def.RegenerationRatePerMinute
	}
	if c.InitialTokens <= 0 {
		c.InitialTokens = def.InitialTokens
	}
	if c.InitialTokens > c.MaxTokens {
		c.InitialTokens = c.MaxTokens
	}
	return c
}

type entry struct {
	tokens      float64
	lastUpdated time.Time
}

// Tracker keeps one bucket per account index, created lazily at the
// configured initial balance.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	entries map[int]*entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for deterministic regeneration tests.
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

// regenerateLocked folds elapsed regeneration into the stored balance.
func (t *Tracker) regenerateLocked(e *entry) {
	now := t.now()
	elapsed := now.Sub(e.lastUpdated)
	if elapsed > 0 {
		e.tokens = math.Min(t.cfg.MaxTokens, e.tokens+elapsed.Minutes()*t.cfg.RegenerationRatePerMinute)
	}
	e.lastUpdated = now
}

func (t *Tracker) getOrCreateLocked(id int) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{tokens: t.cfg.InitialTokens, lastUpdated: t.now()}
		t.entries[id] = e
	}
	return e
}

// Tokens returns the current balance for an account after continuous
// regeneration. Unknown accounts report the initial balance.
func (t *Tracker) Tokens(id int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return t.cfg.InitialTokens
	}
	t.regenerateLocked(e)
	return e.tokens
}

// Has reports whether the account can afford the given cost.
func (t *Tracker) Has(id int, cost float64) bool {
	return t.Tokens(id) >= cost
}

// Consume atomically reserves capacity for a request. Insufficient balance
// rejects without mutating; the balance never goes below zero.
func (t *Tracker) Consume(id int, cost float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(id)
	t.regenerateLocked(e)
	if e.tokens < cost {
		return false
	}
	e.tokens -= cost
	return true
}

// Refund returns tokens for an admitted request that was never dispatched,
// capped at the configured maximum.
func (t *Tracker) Refund(id int, amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(id)
	t.regenerateLocked(e)
	e.tokens = math.Min(t.cfg.MaxTokens, e.tokens+amount)
}

// Reset drops all state for an account. Used when the account is removed.
func (t *Tracker) Reset(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// MaxTokens exposes the configured cap for score normalization.
func (t *Tracker) MaxTokens() float64 { return t.cfg.MaxTokens }
