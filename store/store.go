package store

import (
	"sync"
	"time"

	"github.com/jonwraymond/geoquery/key"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	// StatusFresh means the entry was written within its staleness window
	// and is usable without a refetch.
	StatusFresh Status = iota
	// StatusStale means the entry is still displayable but outdated enough
	// to warrant a background refresh.
	StatusStale
	// StatusFetching means a fetch for the key is in flight. Any previous
	// data remains visible while the fetch runs.
	StatusFetching
	// StatusError means the most recent fetch failed. The last good data,
	// if any, is retained.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusFetching:
		return "fetching"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Policy carries the expiry parameters applied to an entry on write.
type Policy struct {
	// StaleAfter is how long after a write the entry is usable without a
	// refetch. Once exceeded the entry reads as StatusStale.
	StaleAfter time.Duration

	// RetainFor is how long an entry with no subscribers is kept after its
	// last write before the garbage collector may evict it.
	RetainFor time.Duration
}

// Entry is an immutable snapshot of a cache entry. Readers never observe a
// partially-updated entry; every snapshot is taken under the store lock.
type Entry struct {
	Key         key.Key
	Data        any
	HasData     bool
	Status      Status
	FetchedAt   time.Time
	StaleAfter  time.Duration
	RetainFor   time.Duration
	Err         error
	Subscribers int
}

// entry is the mutable record owned exclusively by the Store.
type entry struct {
	key         key.Key
	data        any
	hasData     bool
	status      Status
	fetchedAt   time.Time
	staleAfter  time.Duration
	retainFor   time.Duration
	err         error
	invalidated bool
}

// Listener receives entry snapshots after every state change for a key.
// Listeners must be fast and non-blocking: they run on the write path.
type Listener func(Entry)

// Store is the single shared mutable resource of the query core.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: entries are created and overwritten only through Put,
//   MarkFetching, and MarkError; they are removed by the garbage collector
//   or Close.
// - Errors: read methods never error; a miss is (Entry{}, false).
type Store struct {
	mu        sync.RWMutex
	entries   map[key.Key]*entry
	subs      map[key.Key]int
	listeners map[key.Key]map[int]Listener
	nextID    int
	closed    bool

	now        func() time.Time
	onEvict    func(Entry)
	gcInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOnEvict registers a hook invoked with a snapshot of every entry the
// garbage collector removes.
func WithOnEvict(fn func(Entry)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// WithGCInterval sets how often the background sweep runs. A non-positive
// interval disables the background goroutine; SweepNow still works.
func WithGCInterval(d time.Duration) Option {
	return func(s *Store) { s.gcInterval = d }
}

// DefaultGCInterval is the background sweep cadence when none is configured.
const DefaultGCInterval = time.Minute

// New creates a Store and starts its garbage collection goroutine.
// The caller owns the store and must Close it.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[key.Key]*entry),
		subs:       make(map[key.Key]int),
		listeners:  make(map[key.Key]map[int]Listener),
		now:        time.Now,
		gcInterval: DefaultGCInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.gcInterval > 0 {
		go s.gcLoop()
	} else {
		close(s.done)
	}
	return s
}

// Close stops the garbage collector and drops all entries and listeners.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	s.mu.Lock()
	s.closed = true
	s.entries = make(map[key.Key]*entry)
	s.listeners = make(map[key.Key]map[int]Listener)
	s.subs = make(map[key.Key]int)
	s.mu.Unlock()
}

// Get returns a snapshot of the entry for k. It has no side effects.
// Returns (Entry{}, false) on miss.
func (s *Store) Get(k key.Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[k]
	if !ok {
		return Entry{}, false
	}
	return s.snapshotLocked(e), true
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the keys of all live entries whose domain matches domain.
// An empty domain matches every entry.
func (s *Store) Keys(domain string) []key.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]key.Key, 0, len(s.entries))
	for k := range s.entries {
		if domain == "" || k.Domain() == domain {
			keys = append(keys, k)
		}
	}
	return keys
}

// Put writes data for k: status becomes Fresh, the fetch timestamp is reset,
// and any prior error is cleared. The write is atomic with respect to
// concurrent reads.
func (s *Store) Put(k key.Key, data any, pol Policy) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		e = &entry{key: k}
		s.entries[k] = e
	}
	e.data = data
	e.hasData = true
	e.status = StatusFresh
	e.fetchedAt = s.now()
	e.staleAfter = pol.StaleAfter
	e.retainFor = pol.RetainFor
	e.err = nil
	e.invalidated = false
	snap := s.snapshotLocked(e)
	fns := s.listenersLocked(k)
	s.mu.Unlock()

	notify(fns, snap)
}

// MarkFetching transitions the entry for k to Fetching without discarding
// existing data, so readers keep seeing the previous value while the refetch
// runs. The entry is created if absent.
func (s *Store) MarkFetching(k key.Key) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		e = &entry{key: k}
		s.entries[k] = e
	}
	e.status = StatusFetching
	snap := s.snapshotLocked(e)
	fns := s.listenersLocked(k)
	s.mu.Unlock()

	notify(fns, snap)
}

// MarkError records a fetch failure for k. The last good data, if present,
// is retained so consumers can show stale data with an error indicator.
// No-op when no entry exists for k.
func (s *Store) MarkError(k key.Key, err error) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.status = StatusError
	e.err = err
	// The settling fetch is the replacement cycle an invalidation asked for;
	// leaving the flag set would turn a persistent failure into a retry loop.
	e.invalidated = false
	snap := s.snapshotLocked(e)
	fns := s.listenersLocked(k)
	s.mu.Unlock()

	notify(fns, snap)
}

// Invalidate forces the entry for k to read as Stale regardless of its
// staleness window, waking listeners so subscribers schedule a refetch.
// Returns false when no entry exists for k.
func (s *Store) Invalidate(k key.Key) bool {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.invalidated = true
	snap := s.snapshotLocked(e)
	fns := s.listenersLocked(k)
	s.mu.Unlock()

	notify(fns, snap)
	return true
}

// Subscribe registers one more consumer for k. Subscriber counts are what
// keep entries out of the garbage collector's reach.
func (s *Store) Subscribe(k key.Key) {
	s.mu.Lock()
	s.subs[k]++
	s.mu.Unlock()
}

// Unsubscribe removes one consumer for k. Dropping to zero starts the
// retention countdown; it never evicts immediately.
func (s *Store) Unsubscribe(k key.Key) {
	s.mu.Lock()
	if n := s.subs[k]; n <= 1 {
		delete(s.subs, k)
	} else {
		s.subs[k] = n - 1
	}
	s.mu.Unlock()
}

// Watch registers a listener for entry changes on k and returns a cancel
// function. The listener is invoked with a snapshot after every Put,
// MarkFetching, MarkError, and Invalidate for the key.
func (s *Store) Watch(k key.Key, fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	m, ok := s.listeners[k]
	if !ok {
		m = make(map[int]Listener)
		s.listeners[k] = m
	}
	m[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if m, ok := s.listeners[k]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.listeners, k)
			}
		}
		s.mu.Unlock()
	}
}

// snapshotLocked copies e into an Entry, resolving the lazily-computed Stale
// status. Caller must hold at least the read lock.
func (s *Store) snapshotLocked(e *entry) Entry {
	status := e.status
	switch {
	case e.invalidated:
		// Invalidated entries read as Stale whatever their status, even
		// mid-fetch or after a failed fetch, so subscribers start a
		// replacement fetch cycle.
		status = StatusStale
	case status == StatusFresh && s.now().Sub(e.fetchedAt) >= e.staleAfter:
		status = StatusStale
	}
	return Entry{
		Key:         e.key,
		Data:        e.data,
		HasData:     e.hasData,
		Status:      status,
		FetchedAt:   e.fetchedAt,
		StaleAfter:  e.staleAfter,
		RetainFor:   e.retainFor,
		Err:         e.err,
		Subscribers: s.subs[e.key],
	}
}

// listenersLocked copies the listener set for k so callbacks run outside the
// lock. Caller must hold the lock.
func (s *Store) listenersLocked(k key.Key) []Listener {
	m := s.listeners[k]
	if len(m) == 0 {
		return nil
	}
	fns := make([]Listener, 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []Listener, snap Entry) {
	for _, fn := range fns {
		fn(snap)
	}
}
