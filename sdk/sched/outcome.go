package sched

import "time"

// OutcomeKind classifies how a dispatched request ended.
type OutcomeKind int

const (
	// OutcomeSuccess is a completed request.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRateLimited is an upstream 429 or quota rejection.
	OutcomeRateLimited
	// OutcomeFailure is any other request-level error.
	OutcomeFailure
)

// Outcome is the caller's report of one request's result. Index must be the
// account returned by the Pick that issued the request.
type Outcome struct {
	Index int
	Kind  OutcomeKind
	// Group names the quota group the upstream limited. Empty falls back to
	// DefaultGroup.
	Group string
	// RetryAfter is the upstream-advertised reset delay. Zero falls back to
	// the configured default.
	RetryAfter time.Duration
}
