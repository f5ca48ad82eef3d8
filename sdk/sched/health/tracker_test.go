package health

import (
	"sync"
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	return clock, advance
}

func TestTracker_UnknownAccountReturnsInitial(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{Initial: 70})
	if got := tr.Score(3); got != 70 {
		t.Fatalf("Score(unknown) = %v, want 70", got)
	}
	if !tr.Usable(3) {
		t.Fatalf("Usable(unknown) = false, want true")
	}
}

func TestTracker_FailureThenRecovery(t *testing.T) {
	t.Parallel()

	clock, advance := testClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(Config{
		Initial:             70,
		FailurePenalty:      -10,
		RecoveryRatePerHour: 2,
		MaxScore:            100,
	}, WithClock(clock))

	tr.RecordFailure(0)
	if got := tr.Score(0); got != 60 {
		t.Fatalf("Score after failure = %v, want 60", got)
	}

	// 20 minutes is only 2/3 of a recovery point: no credit yet.
	advance(20 * time.Minute)
	if got := tr.Score(0); got != 60 {
		t.Fatalf("Score at t=20m = %v, want 60", got)
	}

	advance(10 * time.Minute)
	if got := tr.Score(0); got != 61 {
		t.Fatalf("Score at t=30m = %v, want 61", got)
	}
}

func TestTracker_RecoveryCapsAtMaxScore(t *testing.T) {
	t.Parallel()

	clock, advance := testClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(Config{Initial: 70, RateLimitPenalty: -5, RecoveryRatePerHour: 2, MaxScore: 100}, WithClock(clock))

	tr.RecordRateLimit(1)
	advance(1000 * time.Hour)
	if got := tr.Score(1); got != 100 {
		t.Fatalf("Score after long recovery = %v, want 100 (capped)", got)
	}
}

func TestTracker_ScoreNeverNegative(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{Initial: 70, FailurePenalty: -50, MaxScore: 100})
	for i := 0; i < 10; i++ {
		tr.RecordFailure(0)
	}
	if got := tr.Score(0); got != 0 {
		t.Fatalf("Score after repeated failures = %v, want 0", got)
	}
}

func TestTracker_SuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	tr := NewTracker(DefaultConfig())
	tr.RecordFailure(2)
	tr.RecordRateLimit(2)
	if n, _ := tr.FailureStreak(2); n != 2 {
		t.Fatalf("FailureStreak = %d, want 2", n)
	}

	tr.RecordSuccess(2)
	if n, _ := tr.FailureStreak(2); n != 0 {
		t.Fatalf("FailureStreak after success = %d, want 0", n)
	}
}

func TestTracker_SuccessRewardCapped(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{Initial: 98, SuccessReward: 5, MaxScore: 100})
	tr.RecordSuccess(0)
	if got := tr.Score(0); got != 100 {
		t.Fatalf("Score after success near cap = %v, want 100", got)
	}
}

func TestTracker_ResetDropsState(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{Initial: 70, FailurePenalty: -10})
	tr.RecordFailure(4)
	tr.Reset(4)
	if got := tr.Score(4); got != 70 {
		t.Fatalf("Score after Reset = %v, want initial 70", got)
	}
}

func TestTracker_GetSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker(DefaultConfig())
	tr.RecordFailure(0)
	tr.RecordSuccess(1)

	snap := tr.GetSnapshot()
	if len(snap) != 2 {
		t.Fatalf("GetSnapshot() len = %d, want 2", len(snap))
	}
	if snap[0].ConsecutiveFailures != 1 {
		t.Fatalf("snapshot[0].ConsecutiveFailures = %d, want 1", snap[0].ConsecutiveFailures)
	}
	if snap[1].LastSuccess.IsZero() {
		t.Fatalf("snapshot[1].LastSuccess is zero, want set")
	}
}

func TestTracker_ConcurrentRecords(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				tr.RecordSuccess(id % 4)
				tr.RecordRateLimit(id % 4)
				_ = tr.Score(id % 4)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for id := 0; id < 4; id++ {
		got := tr.Score(id)
		if got < 0 || got > tr.MaxScore() {
			t.Fatalf("Score(%d) = %v, want within [0, %v]", id, got, tr.MaxScore())
		}
	}
}
