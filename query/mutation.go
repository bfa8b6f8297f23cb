package query

import (
	"context"
	"sync"

	"github.com/jonwraymond/geoquery/key"
)

// MutationFunc is a one-shot write operation against a remote API, e.g.
// submitting a flood-detection request.
type MutationFunc func(ctx context.Context) (any, error)

// SeedFunc receives the mutation result and may seed derived cache keys.
type SeedFunc func(result any, seed *Seeder)

// MutationState is the lifecycle state of a mutation handle.
type MutationState int

const (
	MutationIdle MutationState = iota
	MutationRunning
	MutationSuccess
	MutationError
)

// String returns the string representation of the state.
func (s MutationState) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationRunning:
		return "running"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "unknown"
	}
}

// Seeder writes mutation results into the cache so that subsequent reads
// for the derived keys are served without a redundant fetch.
type Seeder struct {
	c *Client
}

// Put seeds data under the key derived from (domain, params). The write
// advances the key's fetch generation atomically with the store write, so a
// read-path fetch already in flight for the same key settles into the void
// rather than overwriting the mutation result.
func (s *Seeder) Put(domainName string, params key.Params, data any) error {
	d, err := s.c.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	k, err := key.Build(domainName, params)
	if err != nil {
		return err
	}
	s.c.seed(k, data, d.Policy())
	return nil
}

// Invalidate forces matching entries stale, for derived reads the mutation
// affects but cannot compute locally.
func (s *Seeder) Invalidate(p Pattern) int {
	return s.c.Invalidate(p)
}

// Mutation is a reusable handle for a write operation, tracking the state
// of its most recent invocation.
//
// Contract:
// - Exactly-once: each Do call executes the action once; there is no
//   deduplication, since each call is a distinct user intent.
// - Errors: on failure the error is returned and no cache mutation occurs.
type Mutation struct {
	c         *Client
	action    MutationFunc
	onSuccess SeedFunc

	mu    sync.Mutex
	state MutationState
	err   error
}

// NewMutation creates a mutation handle. onSuccess may be nil.
func (c *Client) NewMutation(action MutationFunc, onSuccess SeedFunc) (*Mutation, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	return &Mutation{c: c, action: action, onSuccess: onSuccess}, nil
}

// Do executes the action. On success the seed callback runs before Do
// returns, so a caller reading a seeded key immediately afterwards observes
// the mutation result.
func (m *Mutation) Do(ctx context.Context) (any, error) {
	m.setState(MutationRunning, nil)

	result, err := m.action(ctx)
	if err != nil {
		m.setState(MutationError, err)
		return nil, err
	}

	if m.onSuccess != nil {
		m.onSuccess(result, &Seeder{c: m.c})
	}
	m.setState(MutationSuccess, nil)
	return result, nil
}

// State returns the state and error of the most recent invocation.
func (m *Mutation) State() (MutationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

func (m *Mutation) setState(s MutationState, err error) {
	m.mu.Lock()
	m.state = s
	m.err = err
	m.mu.Unlock()
}

// Mutate is the one-shot convenience form of NewMutation + Do.
func (c *Client) Mutate(ctx context.Context, action MutationFunc, onSuccess SeedFunc) (any, error) {
	m, err := c.NewMutation(action, onSuccess)
	if err != nil {
		return nil, err
	}
	return m.Do(ctx)
}
