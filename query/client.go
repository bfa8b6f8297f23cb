package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/geoquery/dedup"
	"github.com/jonwraymond/geoquery/domain"
	"github.com/jonwraymond/geoquery/key"
	"github.com/jonwraymond/geoquery/observe"
	"github.com/jonwraymond/geoquery/store"
)

// FetchFunc performs the network operation for one query, using the
// domain's request capability, and decodes the response.
type FetchFunc func(ctx context.Context, f domain.Fetcher) (any, error)

// Client is the query orchestration core. It owns the cache store, the
// deduplication group, and the per-key fetch generation counters.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: the client owns its store; Close tears both down.
// - Errors: an initial fetch failure surfaces on the subscription as
//   StateError; a refetch failure never discards previously served data.
type Client struct {
	store   *store.Store
	group   *dedup.Group
	domains *domain.Registry
	ins     *observe.Instruments
	now     func() time.Time

	genMu sync.Mutex
	gens  map[key.Key]uint64

	closeOnce sync.Once
	closed    chan struct{}
}

type clientOptions struct {
	instruments *observe.Instruments
	now         func() time.Time
	gcInterval  time.Duration
}

// Option configures a Client.
type Option func(*clientOptions) error

// WithObserver wires telemetry from an observe.Observer.
func WithObserver(obs observe.Observer) Option {
	return func(o *clientOptions) error {
		ins, err := observe.NewInstruments(obs)
		if err != nil {
			return err
		}
		o.instruments = ins
		return nil
	}
}

// WithInstruments wires pre-built telemetry instruments.
func WithInstruments(ins *observe.Instruments) Option {
	return func(o *clientOptions) error {
		o.instruments = ins
		return nil
	}
}

// WithClock overrides the client's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) error {
		o.now = now
		return nil
	}
}

// WithGCInterval sets the cache store's sweep cadence.
func WithGCInterval(d time.Duration) Option {
	return func(o *clientOptions) error {
		o.gcInterval = d
		return nil
	}
}

// NewClient creates a query client over the given domain registry.
func NewClient(domains *domain.Registry, opts ...Option) (*Client, error) {
	o := clientOptions{
		now:        time.Now,
		gcInterval: store.DefaultGCInterval,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.instruments == nil {
		o.instruments = observe.NoopInstruments()
	}

	c := &Client{
		group:   dedup.NewGroup(),
		domains: domains,
		ins:     o.instruments,
		now:     o.now,
		gens:    make(map[key.Key]uint64),
		closed:  make(chan struct{}),
	}
	c.store = store.New(
		store.WithClock(o.now),
		store.WithGCInterval(o.gcInterval),
		store.WithOnEvict(c.onEvict),
	)
	return c, nil
}

// Close stops the store's garbage collector and invalidates the client.
// In-flight fetches are not interrupted but their results are discarded.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.store.Close()
	})
}

// Store exposes the underlying cache store for advanced callers.
func (c *Client) Store() *store.Store { return c.store }

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Peek returns the cache entry for (domain, params) without side effects.
func (c *Client) Peek(domainName string, params key.Params) (store.Entry, bool) {
	k, err := key.Build(domainName, params)
	if err != nil {
		return store.Entry{}, false
	}
	return c.store.Get(k)
}

// Fetch is the imperative read path: serve from cache when fresh, serve
// stale data immediately while refetching in the background, or block on a
// (possibly shared) fetch when no data exists yet.
func (c *Client) Fetch(ctx context.Context, domainName string, params key.Params, fn FetchFunc) (any, error) {
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
	meta := observe.QueryMeta{Domain: domainName, Key: k.String()}

	if ent, ok := c.store.Get(k); ok && ent.HasData {
		c.ins.CacheHit(ctx, meta)
		if ent.Status == store.StatusStale {
			// Stale-while-revalidate: serve the old data now, refresh behind.
			c.spawnFetch(k, d, d.Policy(), fn)
		}
		return ent.Data, nil
	}

	c.ins.CacheMiss(ctx, meta)
	data, err := c.fetchCycle(k, d, d.Policy(), fn)
	if errors.Is(err, errSuperseded) {
		// A newer generation settled first; its entry is authoritative.
		if ent, ok := c.store.Get(k); ok && ent.HasData {
			return ent.Data, nil
		}
		return nil, err
	}
	return data, err
}

// Invalidate forces matching entries to read as stale, detaches any
// in-flight fetches so the next fetch starts a new cycle, and advances the
// generation so late settlements from old fetches are discarded. Returns
// the number of entries invalidated.
func (c *Client) Invalidate(p Pattern) int {
	var keys []key.Key
	if !p.Key.IsZero() {
		keys = []key.Key{p.Key}
	} else {
		keys = c.store.Keys(p.Domain)
	}

	n := 0
	for _, k := range keys {
		c.group.Forget(k.String())
		c.genMu.Lock()
		c.gens[k]++
		ok := c.store.Invalidate(k)
		c.genMu.Unlock()
		if ok {
			n++
		}
	}
	return n
}

// Pattern selects cache entries for invalidation. The zero value matches
// every entry; setting Domain narrows to one domain; setting Key narrows to
// exactly one entry.
type Pattern struct {
	Domain string
	Key    key.Key
}

// spawnFetch runs one fetch cycle in the background. Results flow to
// subscribers through store notifications, so the return value is dropped.
func (c *Client) spawnFetch(k key.Key, d *domain.Domain, pol store.Policy, fn FetchFunc) {
	go func() {
		_, _ = c.fetchCycle(k, d, pol, fn)
	}()
}

// fetchCycle executes fn for k through the deduplication group. The store
// write happens inside the deduplicated function, so each physical fetch
// settles the cache exactly once, and only if its generation is still
// current when it settles.
func (c *Client) fetchCycle(k key.Key, d *domain.Domain, pol store.Policy, fn FetchFunc) (any, error) {
	meta := observe.QueryMeta{Domain: d.Name(), Key: k.String()}

	v, shared, err := c.group.Do(k.String(), func() (any, error) {
		g := c.nextGen(k)
		c.store.MarkFetching(k)

		ctx, span := c.ins.StartFetch(context.Background(), meta)
		start := c.now()
		data, ferr := fn(ctx, d.Fetcher())
		c.ins.EndFetch(ctx, meta, span, c.now().Sub(start), ferr)

		if !c.settle(k, g, data, ferr, pol) {
			// A newer fetch or a mutation settled while we were in flight.
			c.ins.Logger().Debug(ctx, "fetch settlement discarded",
				observe.Field{Key: "query.domain", Value: d.Name()},
				observe.Field{Key: "query.key", Value: k.String()},
			)
			return nil, errSuperseded
		}

		if ferr != nil {
			c.ins.Logger().Warn(ctx, "fetch failed",
				observe.Field{Key: "query.domain", Value: d.Name()},
				observe.Field{Key: "error", Value: ferr.Error()},
			)
			return nil, ferr
		}
		return data, nil
	})

	if shared {
		c.ins.DedupJoin(context.Background(), meta)
	}
	return v, err
}

// onEvict records the eviction and releases the key's generation counter.
func (c *Client) onEvict(ent store.Entry) {
	c.ins.Eviction(context.Background(), observe.QueryMeta{
		Domain: ent.Key.Domain(),
		Key:    ent.Key.String(),
	})

	c.genMu.Lock()
	delete(c.gens, ent.Key)
	c.genMu.Unlock()
}

// settle writes a fetch outcome for k only while generation g is still
// current. The generation check and the store write share one critical
// section; a seed or invalidation advancing the generation can therefore
// never interleave between them.
func (c *Client) settle(k key.Key, g uint64, data any, ferr error, pol store.Policy) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.gens[k] != g {
		return false
	}
	if ferr != nil {
		c.store.MarkError(k, ferr)
	} else {
		c.store.Put(k, data, pol)
	}
	return true
}

// seed writes mutation data for k, advancing the generation in the same
// critical section so an in-flight read fetch cannot pass its generation
// check and then overwrite the seed.
func (c *Client) seed(k key.Key, data any, pol store.Policy) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gens[k]++
	c.store.Put(k, data, pol)
}

// nextGen advances and returns the fetch generation for k.
func (c *Client) nextGen(k key.Key) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gens[k]++
	return c.gens[k]
}

// gen returns the current fetch generation for k.
func (c *Client) gen(k key.Key) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gens[k]
}
