package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroup_CollapsesConcurrentFetches(t *testing.T) {
	g := NewGroup()

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (any, error) {
		calls.Add(1)
		close(started)
		<-release
		return "payload", nil
	}

	const n = 25
	results := make([]any, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do("fires", fn)
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
			results[i] = v
		}(i)
	}

	<-started
	// Give the remaining goroutines a moment to join the flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch function ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != "payload" {
			t.Errorf("waiter %d observed %v, want payload", i, v)
		}
	}
}

func TestGroup_ErrorSettlesAllWaiters(t *testing.T) {
	g := NewGroup()

	errBoom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	fn := func() (any, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, errBoom
	}

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, err := g.Do("floods", fn)
			errs[i] = err
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errBoom) {
			t.Errorf("waiter %d got %v, want boom", i, err)
		}
	}
}

func TestGroup_FreshCycleAfterSettlement(t *testing.T) {
	g := NewGroup()

	var calls atomic.Int64
	fn := func() (any, error) {
		return calls.Add(1), nil
	}

	v1, _, err := g.Do("forest_loss", fn)
	if err != nil {
		t.Fatalf("first Do failed: %v", err)
	}
	v2, _, err := g.Do("forest_loss", fn)
	if err != nil {
		t.Fatalf("second Do failed: %v", err)
	}

	if v1 == v2 {
		t.Errorf("calls after settlement shared a result: %v", v1)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetch function ran %d times, want 2", got)
	}
}

func TestGroup_ForgetStartsNewCycle(t *testing.T) {
	g := NewGroup()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = g.Do("air_quality", func() (any, error) {
			close(started)
			<-release
			return "old", nil
		})
	}()
	<-started

	g.Forget("air_quality")

	// A post-Forget call must run its own fetch instead of joining.
	v, _, err := g.Do("air_quality", func() (any, error) { return "new", nil })
	if err != nil {
		t.Fatalf("Do after Forget failed: %v", err)
	}
	if v != "new" {
		t.Errorf("Do after Forget = %v, want new", v)
	}
	close(release)
}

func TestGroup_Waiters(t *testing.T) {
	g := NewGroup()

	if got := g.Waiters("fires"); got != 0 {
		t.Errorf("Waiters on idle key = %d, want 0", got)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = g.Do("fires", func() (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started
	if got := g.Waiters("fires"); got != 1 {
		t.Errorf("Waiters mid-flight = %d, want 1", got)
	}

	close(release)
	<-done
	if got := g.Waiters("fires"); got != 0 {
		t.Errorf("Waiters after settlement = %d, want 0", got)
	}
}
