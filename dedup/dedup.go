package dedup

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs the actual network operation for a key. It is invoked
// at most once per fetch cycle no matter how many callers join.
type FetchFunc func() (any, error)

// Group deduplicates in-flight fetches by key.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Delivery: all callers joined to the same fetch cycle observe the same
//   result or the same error; none can observe a different settlement.
// - Retry: a failed fetch settles every waiter with the error and is not
//   retried here. Retry policy belongs to the caller.
type Group struct {
	sf singleflight.Group

	mu      sync.Mutex
	waiters map[string]int
}

// NewGroup creates an empty deduplication group.
func NewGroup() *Group {
	return &Group{waiters: make(map[string]int)}
}

// Do executes fn for k, or joins an already in-flight execution. The shared
// return reports whether the result was delivered to more than one caller.
func (g *Group) Do(k string, fn FetchFunc) (v any, shared bool, err error) {
	g.mu.Lock()
	g.waiters[k]++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if n := g.waiters[k]; n <= 1 {
			delete(g.waiters, k)
		} else {
			g.waiters[k] = n - 1
		}
		g.mu.Unlock()
	}()

	v, err, shared = g.sf.Do(k, func() (any, error) { return fn() })
	return v, shared, err
}

// Forget detaches the in-flight fetch for k, if any, so that the next Do
// starts a new fetch cycle instead of joining the old one. Callers already
// joined still receive the old fetch's settlement.
func (g *Group) Forget(k string) {
	g.sf.Forget(k)
}

// Waiters returns the number of callers currently blocked on k.
func (g *Group) Waiters(k string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters[k]
}
