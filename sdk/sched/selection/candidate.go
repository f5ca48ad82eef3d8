// Package selection implements the account selection strategies. Strategies
// operate on point-in-time snapshots and never mutate tracker state; all
// mutation happens through outcome reporting on the scheduler.
package selection

import (
	"math"
	"sort"
	"time"
)

// Scoring and hysteresis constants. The stickiness bonus and switch
// threshold keep selection from oscillating between near-equal accounts on
// every request, which would defeat prompt and connection caching.
const (
	DefaultMinHealth = 50

	healthWeight    = 2
	tokenWeight     = 5
	freshnessWeight = 0.1
	maxIdleSeconds  = 3600
	stickinessBonus = 150
	switchThreshold = 100
	selectionCost   = 1
)

// Account is a snapshot of one account's scheduling metrics.
type Account struct {
	Index       int
	LastUsed    time.Time
	Enabled     bool
	RateLimited bool
	CoolingDown bool
	HealthScore float64
}

// TokenSource exposes the token-bucket reads selection needs.
type TokenSource interface {
	Tokens(id int) float64
	Has(id int, cost float64) bool
	MaxTokens() float64
}

// Rand is the random source for the weighted strategies. Injectable so tests
// can assert distribution deterministically.
type Rand interface {
	Float64() float64
}

// available reports whether an account passes the rate-limit/cooldown filter.
func available(a Account) bool {
	return a.Enabled && !a.RateLimited && !a.CoolingDown
}

// healthy reports whether an account passes the health filter. The filter
// order is fixed everywhere: rate-limit/cooldown first, then health, then
// tokens.
func healthy(a Account, minHealth float64) bool {
	return a.HealthScore >= minHealth
}

// SortByLRUWithHealth filters out rate-limited, cooling-down, and unhealthy
// accounts, then orders the survivors oldest-used first (most rested), ties
// broken by descending health score. The full ordered list is returned for
// diagnostics as well as selection.
func SortByLRUWithHealth(accounts []Account, minHealth float64) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if !available(a) {
			continue
		}
		if !healthy(a, minHealth) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].LastUsed.Before(out[j].LastUsed)
		}
		return out[i].HealthScore > out[j].HealthScore
	})
	return out
}

// baseScore computes the hybrid selection score: weighted health, normalized
// token balance, and idle-time freshness capped at one hour.
func baseScore(a Account, tokens TokenSource, now time.Time) float64 {
	tokenFraction := 0.0
	if maxTokens := tokens.MaxTokens(); maxTokens > 0 {
		tokenFraction = tokens.Tokens(a.Index) / maxTokens
	}
	idle := now.Sub(a.LastUsed).Seconds()
	if idle < 0 {
		idle = 0
	}
	if idle > maxIdleSeconds {
		idle = maxIdleSeconds
	}
	score := a.HealthScore*healthWeight + tokenFraction*100*tokenWeight + idle*freshnessWeight
	return math.Max(0, score)
}

// hybridCandidates applies the shared filter chain for the scored strategies:
// rate-limit/cooldown, then health, then token availability.
func hybridCandidates(accounts []Account, tokens TokenSource, minHealth float64) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if !available(a) {
			continue
		}
		if !healthy(a, minHealth) {
			continue
		}
		if !tokens.Has(a.Index, selectionCost) {
			continue
		}
		out = append(out, a)
	}
	return out
}
