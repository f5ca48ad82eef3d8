package selection

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// ErrNoCandidates is returned when every account is filtered out.
var ErrNoCandidates = errors.New("selection: no account available")

// NoCurrent marks the absence of a previously-selected account.
const NoCurrent = -1

// Selector picks an account index from a snapshot.
type Selector interface {
	// Pick returns the chosen account index, or ErrNoCandidates when no
	// account passes the strategy's filters. current is the previously
	// selected index, or NoCurrent.
	Pick(accounts []Account, tokens TokenSource, current int, now time.Time) (int, error)
}

// HybridSelector scores candidates on health, token balance, and idle time,
// with hysteresis in favor of the current account.
type HybridSelector struct {
	MinHealth float64
}

func (s *HybridSelector) minHealth() float64 {
	if s == nil || s.MinHealth <= 0 {
		return DefaultMinHealth
	}
	return s.MinHealth
}

// Pick selects the candidate with the highest bonus-adjusted score. The
// stickiness bonus applies to the current account only during comparison;
// switching away additionally requires the challenger's base score to beat
// the current account's base score by the switch threshold.
func (s *HybridSelector) Pick(accounts []Account, tokens TokenSource, current int, now time.Time) (int, error) {
	candidates := hybridCandidates(accounts, tokens, s.minHealth())
	if len(candidates) == 0 {
		return NoCurrent, ErrNoCandidates
	}

	base := make(map[int]float64, len(candidates))
	bestIdx := NoCurrent
	bestAdjusted := 0.0
	currentInPool := false
	for _, c := range candidates {
		score := baseScore(c, tokens, now)
		base[c.Index] = score
		adjusted := score
		if c.Index == current {
			adjusted += stickinessBonus
			currentInPool = true
		}
		if bestIdx == NoCurrent || adjusted > bestAdjusted {
			bestIdx = c.Index
			bestAdjusted = adjusted
		}
	}

	if currentInPool && bestIdx != current {
		if base[bestIdx]-base[current] < switchThreshold {
			return current, nil
		}
	}
	return bestIdx, nil
}

// PriorityQueueSelector picks randomly among candidates, weighted by
// healthScore multiplied by token balance, so healthier and fresher accounts
// are statistically preferred without permanently starving the rest.
type PriorityQueueSelector struct {
	MinHealth float64
	Rand      Rand
}

func (s *PriorityQueueSelector) minHealth() float64 {
	if s == nil || s.MinHealth <= 0 {
		return DefaultMinHealth
	}
	return s.MinHealth
}

// Pick performs the weighted-random draw.
func (s *PriorityQueueSelector) Pick(accounts []Account, tokens TokenSource, current int, now time.Time) (int, error) {
	_ = current
	_ = now
	candidates := hybridCandidates(accounts, tokens, s.minHealth())
	if len(candidates) == 0 {
		return NoCurrent, ErrNoCandidates
	}

	weights := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		w := c.HealthScore * tokens.Tokens(c.Index)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		// All weights collapsed to zero: fall back to a uniform draw.
		idx := int(s.draw() * float64(len(candidates)))
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		return candidates[idx].Index, nil
	}

	remaining := s.draw() * total
	for i, c := range candidates {
		remaining -= weights[i]
		if remaining < 0 {
			return c.Index, nil
		}
	}
	return candidates[len(candidates)-1].Index, nil
}

func (s *PriorityQueueSelector) draw() float64 {
	if s == nil || s.Rand == nil {
		return rand.Float64()
	}
	return s.Rand.Float64()
}

// RoundRobinSelector advances a cursor over enabled, non-rate-limited
// accounts in index order, wrapping. Safe for concurrent use.
type RoundRobinSelector struct {
	mu   sync.Mutex
	last int
	init bool
}

// Pick returns the next account after the previously returned one.
func (s *RoundRobinSelector) Pick(accounts []Account, tokens TokenSource, current int, now time.Time) (int, error) {
	_ = tokens
	_ = current
	_ = now
	pool := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if !available(a) {
			continue
		}
		pool = append(pool, a)
	}
	if len(pool) == 0 {
		return NoCurrent, ErrNoCandidates
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Index < pool[j].Index })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		s.init = true
		s.last = pool[0].Index
		return pool[0].Index, nil
	}
	for _, a := range pool {
		if a.Index > s.last {
			s.last = a.Index
			return a.Index, nil
		}
	}
	s.last = pool[0].Index
	return pool[0].Index, nil
}

// StickySelector returns the previously-selected account for as long as it
// stays usable, delegating to a fallback strategy once it is rate-limited or
// cooling down.
type StickySelector struct {
	Fallback Selector
}

// Pick keeps the current account when it remains available.
func (s *StickySelector) Pick(accounts []Account, tokens TokenSource, current int, now time.Time) (int, error) {
	if current != NoCurrent {
		for _, a := range accounts {
			if a.Index == current && available(a) {
				return current, nil
			}
		}
	}
	if s.Fallback == nil {
		return NoCurrent, ErrNoCandidates
	}
	return s.Fallback.Pick(accounts, tokens, current, now)
}
