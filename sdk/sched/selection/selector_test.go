package selection

import (
	"errors"
	"testing"
	"time"
)

type fakeTokens struct {
	max      float64
	balances map[int]float64
}

func (f *fakeTokens) Tokens(id int) float64 {
	if v, ok := f.balances[id]; ok {
		return v
	}
	return f.max
}

func (f *fakeTokens) Has(id int, cost float64) bool { return f.Tokens(id) >= cost }

func (f *fakeTokens) MaxTokens() float64 { return f.max }

type seqRand struct {
	values []float64
	pos    int
}

func (r *seqRand) Float64() float64 {
	v := r.values[r.pos%len(r.values)]
	r.pos++
	return v
}

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func account(index int, idle time.Duration, health float64) Account {
	return Account{
		Index:       index,
		LastUsed:    testNow.Add(-idle),
		Enabled:     true,
		HealthScore: health,
	}
}

func TestSortByLRUWithHealth_FiltersExcluded(t *testing.T) {
	t.Parallel()

	accounts := []Account{
		func() Account { a := account(0, time.Hour, 90); a.RateLimited = true; return a }(),
		func() Account { a := account(1, 2*time.Hour, 90); a.CoolingDown = true; return a }(),
		account(2, 3*time.Hour, 40), // below min health
		account(3, time.Minute, 80),
	}

	got := SortByLRUWithHealth(accounts, 50)
	if len(got) != 1 {
		t.Fatalf("SortByLRUWithHealth() kept %d accounts, want 1", len(got))
	}
	if got[0].Index != 3 {
		t.Fatalf("SortByLRUWithHealth()[0].Index = %d, want 3", got[0].Index)
	}
}

func TestSortByLRUWithHealth_OldestFirstThenHealth(t *testing.T) {
	t.Parallel()

	accounts := []Account{
		account(0, time.Minute, 95),
		account(1, time.Hour, 60),
		func() Account { a := account(2, time.Hour, 90); return a }(),
	}

	got := SortByLRUWithHealth(accounts, 50)
	if len(got) != 3 {
		t.Fatalf("SortByLRUWithHealth() kept %d accounts, want 3", len(got))
	}
	// Accounts 1 and 2 share lastUsed; the healthier one sorts first.
	want := []int{2, 1, 0}
	for i, idx := range want {
		if got[i].Index != idx {
			t.Fatalf("SortByLRUWithHealth()[%d].Index = %d, want %d", i, got[i].Index, idx)
		}
	}
}

func TestHybridSelector_MostStaleWinsWithoutCurrent(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &HybridSelector{}
	accounts := []Account{
		account(0, time.Minute, 70),
		account(1, 30*time.Minute, 70),
		account(2, 2*time.Hour, 70),
	}

	got, err := selector.Pick(accounts, tokens, NoCurrent, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 2 {
		t.Fatalf("Pick() = %d, want 2 (longest idle)", got)
	}
}

func TestHybridSelector_StickinessKeepsCurrent(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &HybridSelector{}
	// Challenger leads by ~36 base points (idle difference), well inside
	// the switch threshold of 100.
	accounts := []Account{
		account(0, 10*time.Minute, 70),
		account(1, 16*time.Minute, 70),
	}

	got, err := selector.Pick(accounts, tokens, 0, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Pick() = %d, want 0 (stickiness within threshold)", got)
	}
}

func TestHybridSelector_SwitchesPastThreshold(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &HybridSelector{}
	// Challenger at full health and an hour idle beats the degraded
	// current account by far more than the threshold.
	accounts := []Account{
		account(0, time.Minute, 51),
		account(1, time.Hour, 100),
	}

	got, err := selector.Pick(accounts, tokens, 0, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Pick() = %d, want 1 (challenger past threshold)", got)
	}
}

func TestHybridSelector_CurrentFilteredOut(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &HybridSelector{}
	current := account(0, time.Minute, 90)
	current.RateLimited = true
	accounts := []Account{current, account(1, time.Minute, 70)}

	got, err := selector.Pick(accounts, tokens, 0, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Pick() = %d, want 1 (current rate-limited)", got)
	}
}

func TestHybridSelector_TokenFilter(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50, balances: map[int]float64{0: 0}}
	selector := &HybridSelector{}
	accounts := []Account{account(0, time.Hour, 100)}

	_, err := selector.Pick(accounts, tokens, NoCurrent, testNow)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("Pick() error = %v, want ErrNoCandidates", err)
	}
}

func TestPriorityQueueSelector_FiltersLikeHybrid(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50, balances: map[int]float64{2: 0}}
	selector := &PriorityQueueSelector{Rand: &seqRand{values: []float64{0.99}}}
	limited := account(0, time.Hour, 90)
	limited.RateLimited = true
	accounts := []Account{
		limited,
		account(1, time.Hour, 40), // unhealthy
		account(2, time.Hour, 90), // no tokens
		account(3, time.Hour, 90),
	}

	for i := 0; i < 20; i++ {
		got, err := selector.Pick(accounts, tokens, NoCurrent, testNow)
		if err != nil {
			t.Fatalf("Pick() #%d error = %v", i, err)
		}
		if got != 3 {
			t.Fatalf("Pick() #%d = %d, want 3 (only survivor)", i, got)
		}
	}
}

func TestPriorityQueueSelector_WeightedDraw(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50, balances: map[int]float64{0: 50, 1: 10}}
	accounts := []Account{
		account(0, time.Hour, 100), // weight 5000
		account(1, time.Hour, 60),  // weight 600
	}

	// A draw below 5000/5600 lands on account 0, above it on account 1.
	low := &PriorityQueueSelector{Rand: &seqRand{values: []float64{0.1}}}
	got, err := low.Pick(accounts, tokens, NoCurrent, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Pick() with low draw = %d, want 0", got)
	}

	high := &PriorityQueueSelector{Rand: &seqRand{values: []float64{0.95}}}
	got, err = high.Pick(accounts, tokens, NoCurrent, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Pick() with high draw = %d, want 1", got)
	}
}

func TestPriorityQueueSelector_Empty(t *testing.T) {
	t.Parallel()

	selector := &PriorityQueueSelector{}
	_, err := selector.Pick(nil, &fakeTokens{max: 50}, NoCurrent, testNow)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("Pick() error = %v, want ErrNoCandidates", err)
	}
}

func TestRoundRobinSelector_CyclesInIndexOrder(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &RoundRobinSelector{}
	accounts := []Account{
		account(2, time.Hour, 90),
		account(0, time.Hour, 90),
		account(1, time.Hour, 90),
	}

	want := []int{0, 1, 2, 0, 1}
	for i, idx := range want {
		got, err := selector.Pick(accounts, tokens, NoCurrent, testNow)
		if err != nil {
			t.Fatalf("Pick() #%d error = %v", i, err)
		}
		if got != idx {
			t.Fatalf("Pick() #%d = %d, want %d", i, got, idx)
		}
	}
}

func TestRoundRobinSelector_SkipsRateLimited(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &RoundRobinSelector{}
	limited := account(1, time.Hour, 90)
	limited.RateLimited = true
	accounts := []Account{account(0, time.Hour, 90), limited, account(2, time.Hour, 90)}

	want := []int{0, 2, 0}
	for i, idx := range want {
		got, err := selector.Pick(accounts, tokens, NoCurrent, testNow)
		if err != nil {
			t.Fatalf("Pick() #%d error = %v", i, err)
		}
		if got != idx {
			t.Fatalf("Pick() #%d = %d, want %d", i, got, idx)
		}
	}
}

func TestStickySelector_KeepsCurrentUntilExcluded(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{max: 50}
	selector := &StickySelector{Fallback: &HybridSelector{}}
	accounts := []Account{
		account(0, time.Minute, 60),
		account(1, 2*time.Hour, 100),
	}

	got, err := selector.Pick(accounts, tokens, 0, testNow)
	if err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Pick() = %d, want 0 (sticky)", got)
	}

	accounts[0].RateLimited = true
	got, err = selector.Pick(accounts, tokens, 0, testNow)
	if err != nil {
		t.Fatalf("Pick() after rate limit error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Pick() after rate limit = %d, want 1 (fallback)", got)
	}
}
