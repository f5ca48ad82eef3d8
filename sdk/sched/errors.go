package sched

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAccountAvailable reports that every account was filtered out after
// strategy evaluation. Recoverable: the caller may retry, back off, or wait.
var ErrNoAccountAvailable = errors.New("sched: no account available")

// WaitTimeoutError reports that the wait-for-account loop hit its configured
// bound before any account became available. Fatal to the current request;
// upstream quota resets can be multi-hour and an unbounded wait would stall
// callers silently.
type WaitTimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("sched: no account became available after %s (limit %s)",
		e.Elapsed.Round(time.Millisecond), e.Limit)
}
