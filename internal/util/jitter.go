// Package util provides randomized delay helpers shared by the scheduler's
// retry and wait loops.
package util

import (
	"math"
	"math/rand"
	"time"
)

// DefaultJitterFactor is the spread applied by AddJitter when callers pass 0.
const DefaultJitterFactor = 0.3

// Rand is the minimal random source the scheduler depends on. Production
// wiring uses math/rand/v2; tests inject a deterministic implementation.
type Rand interface {
	Float64() float64
}

type systemRand struct{}

func (systemRand) Float64() float64 { return rand.Float64() }

// SystemRand returns the process-wide random source.
func SystemRand() Rand { return systemRand{} }

// AddJitter shifts base by a uniform offset in [-factor, +factor] of base,
// rounded to the nearest millisecond and floored at zero. Concurrent callers
// retrying with jittered delays do not stampede a just-recovered account.
func AddJitter(rng Rand, base time.Duration, factor float64) time.Duration {
	if rng == nil {
		rng = systemRand{}
	}
	if factor <= 0 {
		factor = DefaultJitterFactor
	}
	baseMs := float64(base.Milliseconds())
	offset := (rng.Float64()*2 - 1) * baseMs * factor
	ms := math.Round(baseMs + offset)
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// RandomDelay returns a uniform duration in [min, max], rounded to the
// nearest millisecond.
func RandomDelay(rng Rand, min, max time.Duration) time.Duration {
	if rng == nil {
		rng = systemRand{}
	}
	if max < min {
		min, max = max, min
	}
	minMs := float64(min.Milliseconds())
	spanMs := float64((max - min).Milliseconds())
	ms := math.Round(minMs + rng.Float64()*spanMs)
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Backoff returns the jittered exponential delay for the given zero-based
// attempt, capped at max before jitter is applied.
func Backoff(rng Rand, attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	return AddJitter(rng, delay, DefaultJitterFactor)
}
