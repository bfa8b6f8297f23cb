package query

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/geoquery/domain"
	"github.com/jonwraymond/geoquery/key"
	"github.com/jonwraymond/geoquery/observe"
	"github.com/jonwraymond/geoquery/store"
)

// State is the lifecycle state of a subscription.
type State int

const (
	// StateIdle means the subscription is not enabled.
	StateIdle State = iota
	// StateLoading means no cached data exists yet and a fetch is in flight.
	StateLoading
	// StateSuccess means fresh or stale-but-present data is being served.
	StateSuccess
	// StateRefetching means data is being served while a background fetch runs.
	StateRefetching
	// StateError means the fetch failed and no prior data exists.
	StateError
	// StateDisabled is terminal: the subscription has been closed.
	StateDisabled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateRefetching:
		return "refetching"
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Options configures a subscription.
type Options struct {
	// Enabled gates fetching. While it reports false the subscription
	// stays Idle and never issues a network call. nil means always
	// enabled. Dependent queries put their upstream check here.
	Enabled func() bool

	// RefetchInterval schedules periodic background refetches regardless
	// of staleness. Zero disables polling.
	RefetchInterval time.Duration

	// StaleAfter overrides the domain's staleness window when positive.
	StaleAfter time.Duration

	// RetainFor overrides the domain's retention window when positive.
	RetainFor time.Duration
}

// Result is what a subscription publishes to its consumer.
type Result struct {
	Data      any
	HasData   bool
	State     State
	Err       error
	FetchedAt time.Time
}

// Subscription is a live binding between one consumer and one query key.
// It is created by Client.Subscribe and must be closed by the consumer.
type Subscription struct {
	c    *Client
	k    key.Key
	d    *domain.Domain
	pol  store.Policy
	fn   FetchFunc
	opts Options

	mu      sync.Mutex
	last    Result
	closed  bool
	metered bool

	updates chan Result
	wake    chan struct{}
	force   chan struct{}
	done    chan struct{}
	unwatch func()

	closeOnce sync.Once
}

// Subscribe binds a consumer to (domain, params). The fetch function is
// invoked whenever the runner decides the entry needs (re)fetching; results
// are delivered through the Updates channel and Snapshot.
func (c *Client) Subscribe(domainName string, params key.Params, fn FetchFunc, opts Options) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilFetch
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	d, err := c.domains.Lookup(domainName)
	if err != nil {
		return nil, err
	}
	k, err := key.Build(domainName, params)
	if err != nil {
		return nil, err
	}

	pol := d.Policy()
	if opts.StaleAfter > 0 {
		pol.StaleAfter = opts.StaleAfter
	}
	if opts.RetainFor > 0 {
		pol.RetainFor = opts.RetainFor
	}

	s := &Subscription{
		c:       c,
		k:       k,
		d:       d,
		pol:     pol,
		fn:      fn,
		opts:    opts,
		updates: make(chan Result, 1),
		wake:    make(chan struct{}, 1),
		force:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	c.store.Subscribe(k)
	s.unwatch = c.store.Watch(k, func(store.Entry) { s.poke(s.wake) })

	go s.run()
	return s, nil
}

// Key returns the query key this subscription is bound to.
func (s *Subscription) Key() key.Key { return s.k }

// Snapshot returns the most recently published result.
func (s *Subscription) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Updates returns a conflated channel of results. Slow consumers only ever
// see the latest state; intermediate states may be skipped.
func (s *Subscription) Updates() <-chan Result { return s.updates }

// Recheck re-evaluates the subscription. Call it after the upstream value
// an Enabled predicate depends on has changed.
func (s *Subscription) Recheck() { s.poke(s.wake) }

// Refetch forces a background refetch even if the entry is still fresh.
func (s *Subscription) Refetch() { s.poke(s.force) }

// Close tears the subscription down: polling stops, no further fetches are
// scheduled, and the store's subscriber count is released so the retention
// countdown can begin. An in-flight shared fetch is not aborted; its result
// is still written for the benefit of any future subscriber.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.unwatch()
		s.c.store.Unsubscribe(s.k)
		s.publish(Result{State: StateDisabled})
	})
}

func (s *Subscription) poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Subscription) enabled() bool {
	if s.opts.Enabled == nil {
		return true
	}
	return s.opts.Enabled()
}

// run is the subscription's event loop: it reacts to store notifications,
// explicit rechecks, forced refetches, and the polling ticker.
func (s *Subscription) run() {
	var tickC <-chan time.Time
	if s.opts.RefetchInterval > 0 {
		ticker := time.NewTicker(s.opts.RefetchInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	s.evaluate(false)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.evaluate(false)
		case <-s.force:
			s.evaluate(true)
		case <-tickC:
			s.evaluate(true)
		}
	}
}

// evaluate maps the current cache entry onto the subscription state and
// decides whether to trigger a fetch. force requests a refetch regardless
// of staleness (polling, explicit Refetch).
func (s *Subscription) evaluate(force bool) {
	if s.isClosed() {
		return
	}
	if !s.enabled() {
		s.publish(Result{State: StateIdle})
		return
	}

	ent, ok := s.c.store.Get(s.k)
	switch {
	case !ok:
		s.meterOnce(false)
		s.publish(Result{State: StateLoading})
		s.c.spawnFetch(s.k, s.d, s.pol, s.fn)

	case ent.Status == store.StatusFetching:
		if ent.HasData {
			s.publish(Result{Data: ent.Data, HasData: true, State: StateRefetching, FetchedAt: ent.FetchedAt})
		} else {
			s.publish(Result{State: StateLoading})
		}

	case ent.Status == store.StatusError:
		if ent.HasData {
			// Keep serving the last good data, error attached.
			s.publish(Result{Data: ent.Data, HasData: true, State: StateSuccess, Err: ent.Err, FetchedAt: ent.FetchedAt})
		} else {
			s.publish(Result{State: StateError, Err: ent.Err})
		}

	case ent.Status == store.StatusStale:
		// Stale-while-revalidate: the previous data stays visible for the
		// whole refetch.
		s.meterOnce(true)
		s.publish(Result{Data: ent.Data, HasData: ent.HasData, State: StateRefetching, FetchedAt: ent.FetchedAt})
		s.c.spawnFetch(s.k, s.d, s.pol, s.fn)

	default: // StatusFresh
		s.meterOnce(true)
		if force {
			s.publish(Result{Data: ent.Data, HasData: true, State: StateRefetching, FetchedAt: ent.FetchedAt})
			s.c.spawnFetch(s.k, s.d, s.pol, s.fn)
			return
		}
		s.publish(Result{Data: ent.Data, HasData: true, State: StateSuccess, FetchedAt: ent.FetchedAt})
	}
}

// meterOnce records the subscription's first resolution as a hit or miss.
func (s *Subscription) meterOnce(hit bool) {
	s.mu.Lock()
	if s.metered {
		s.mu.Unlock()
		return
	}
	s.metered = true
	s.mu.Unlock()

	meta := observe.QueryMeta{Domain: s.d.Name(), Key: s.k.String()}
	if hit {
		s.c.ins.CacheHit(context.Background(), meta)
	} else {
		s.c.ins.CacheMiss(context.Background(), meta)
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publish stores r as the latest result and conflates it onto the updates
// channel. Identical consecutive results are suppressed.
func (s *Subscription) publish(r Result) {
	s.mu.Lock()
	if s.closed && r.State != StateDisabled {
		s.mu.Unlock()
		return
	}
	if r.State == StateDisabled {
		s.closed = true
	}
	last := s.last
	if last.State == r.State && last.HasData == r.HasData &&
		last.Err == r.Err && last.FetchedAt.Equal(r.FetchedAt) {
		s.mu.Unlock()
		return
	}
	s.last = r
	s.mu.Unlock()

	// Conflate: drop the stale pending update, then deliver the new one.
	select {
	case s.updates <- r:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- r:
		default:
		}
	}
}
