package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, n int) (*Pool, func()) {
	t.Helper()

	var mu sync.Mutex
	var woke bool
	wake := func() {
		mu.Lock()
		woke = true
		mu.Unlock()
	}
	_ = woke

	p, err := New(n, wake, nil)
	require.NoError(t, err)
	return p, p.Shutdown
}

// drainUntil polls DrainCompletions until the expected number of
// After callbacks have fired, or the deadline passes.
func drainUntil(t *testing.T, p *Pool, want int, got *int, mu *sync.Mutex) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.DrainCompletions()
		mu.Lock()
		n := *got
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completions", want)
}

func TestOrderedSameClassExecutesInSubmissionOrder(t *testing.T) {
	p, shutdown := newTestPool(t, 4)
	defer shutdown()

	var mu sync.Mutex
	var order []int
	var completed int

	for i := 0; i < 5; i++ {
		i := i
		w := &WorkItem{
			Class:  Ord1,
			Cookie: 0,
			Do: func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			},
			After: func() {
				mu.Lock()
				completed++
				mu.Unlock()
			},
		}
		p.Submit(w)
	}

	drainUntil(t, p, 5, &completed, &mu)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBarrierSeparatesEras(t *testing.T) {
	p, shutdown := newTestPool(t, 4)
	defer shutdown()

	var mu sync.Mutex
	var events []string
	var completed int
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	p.Submit(&WorkItem{Class: Ord1, Do: func() { record("ord1-a") }, After: func() { mu.Lock(); completed++; mu.Unlock() }})
	p.Submit(&WorkItem{Class: Ord1, Do: func() { record("ord1-b") }, After: func() { mu.Lock(); completed++; mu.Unlock() }})
	// The barrier resolves when the planner consumes it (running its Do),
	// not when the loop thread later runs its After.
	p.Submit(&WorkItem{Class: Barrier, Do: func() { record("bar") }, After: func() { mu.Lock(); completed++; mu.Unlock() }})
	p.Submit(&WorkItem{Class: Ord1, Do: func() { record("ord1-c") }, After: func() { mu.Lock(); completed++; mu.Unlock() }})
	p.Submit(&WorkItem{Class: Unordered, Do: func() { record("unord") }, After: func() { mu.Lock(); completed++; mu.Unlock() }})

	drainUntil(t, p, 5, &completed, &mu)

	mu.Lock()
	defer mu.Unlock()

	barIdx, ord1cIdx := -1, -1
	for i, e := range events {
		if e == "bar" {
			barIdx = i
		}
		if e == "ord1-c" {
			ord1cIdx = i
		}
	}
	require.GreaterOrEqual(t, barIdx, 0)
	require.GreaterOrEqual(t, ord1cIdx, 0)
	require.Less(t, barIdx, ord1cIdx, "ord1-c must start strictly after the barrier resolves")

	// ord1-a and ord1-b both precede the barrier.
	aIdx, bIdx := -1, -1
	for i, e := range events {
		if e == "ord1-a" {
			aIdx = i
		}
		if e == "ord1-b" {
			bIdx = i
		}
	}
	require.Less(t, aIdx, barIdx)
	require.Less(t, bIdx, barIdx)
}

func TestInFlightZeroInNothing(t *testing.T) {
	p, shutdown := newTestPool(t, 2)
	defer shutdown()

	var mu sync.Mutex
	var completed int
	for i := 0; i < 3; i++ {
		p.Submit(&WorkItem{
			Class: Ord1,
			Do:    func() {},
			After: func() { mu.Lock(); completed++; mu.Unlock() },
		})
	}
	drainUntil(t, p, 3, &completed, &mu)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.PlannerState() == StateNothing {
			require.Equal(t, 0, p.InFlight())
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("planner never reached NOTHING")
}

func TestEmptyBarrierIsPureSyncPoint(t *testing.T) {
	p, shutdown := newTestPool(t, 2)
	defer shutdown()

	var mu sync.Mutex
	var completed int
	p.Submit(&WorkItem{Class: Barrier, After: func() { mu.Lock(); completed++; mu.Unlock() }})
	drainUntil(t, p, 1, &completed, &mu)
}

func TestOrderedClassInterleaveWithoutBarrierIsFatal(t *testing.T) {
	p, shutdown := newTestPool(t, 2)
	defer shutdown()

	p.Submit(&WorkItem{Class: Ord1, Do: func() {}})

	require.Panics(t, func() {
		p.Submit(&WorkItem{Class: Ord1 + 1, Do: func() {}})
	})
}

func TestSubmitAfterShutdownIsFatal(t *testing.T) {
	p, err := New(1, func() {}, nil)
	require.NoError(t, err)
	p.Shutdown()

	require.Panics(t, func() {
		p.Submit(&WorkItem{Class: Unordered, Do: func() {}})
	})
}
