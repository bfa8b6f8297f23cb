package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/geoquery/store"
)

// Well-known domain names.
const (
	Fires      = "fires"
	Floods     = "floods"
	ForestLoss = "forest_loss"
	LandCover  = "land_cover"
	AirQuality = "air_quality"
	Boundaries = "boundaries"
)

// Sentinel errors for domain registration and lookup.
var (
	ErrMissingName   = errors.New("domain: name is required")
	ErrMissingSource = errors.New("domain: base URL or fetcher is required")
	ErrUnknownDomain = errors.New("domain: unknown domain")
	ErrDuplicate     = errors.New("domain: already registered")
)

// defaultPolicies is the per-domain expiry table. Retention is deliberately
// longer than staleness so an unwatched layer can be re-toggled without a
// refetch until its retention window lapses.
var defaultPolicies = map[string]store.Policy{
	Fires:      {StaleAfter: 5 * time.Minute, RetainFor: 30 * time.Minute},
	AirQuality: {StaleAfter: 5 * time.Minute, RetainFor: 30 * time.Minute},
	Floods:     {StaleAfter: 30 * time.Minute, RetainFor: 2 * time.Hour},
	ForestLoss: {StaleAfter: time.Hour, RetainFor: 4 * time.Hour},
	LandCover:  {StaleAfter: 24 * time.Hour, RetainFor: 48 * time.Hour},
	Boundaries: {StaleAfter: 24 * time.Hour, RetainFor: 48 * time.Hour},
}

// DefaultPolicy returns the expiry policy for a named domain. Unknown names
// get the live-feed default of 5 minutes staleness, 30 minutes retention.
func DefaultPolicy(name string) store.Policy {
	if pol, ok := defaultPolicies[name]; ok {
		return pol
	}
	return store.Policy{StaleAfter: 5 * time.Minute, RetainFor: 30 * time.Minute}
}

// Config describes one remote data domain.
type Config struct {
	// Name identifies the domain and becomes the key namespace.
	Name string

	// BaseURL is the root endpoint relative request URLs resolve against.
	// Required unless Fetcher is set.
	BaseURL string

	// APIKey is sent with every request when non-empty. It may reference
	// environment variables with ${VAR} syntax; see ExpandSecret.
	APIKey string

	// APIKeyHeader is the header carrying APIKey.
	// Default: "X-API-Key"
	APIKeyHeader string

	// Tokens supplies bearer tokens for authenticated feeds. Optional.
	Tokens *TokenProvider

	// Timeout bounds each HTTP request.
	// Default: 30s
	Timeout time.Duration

	// Policy is the staleness/retention policy for the domain's entries.
	// The zero value selects DefaultPolicy(Name).
	Policy store.Policy

	// Fetcher overrides the HTTP fetcher entirely. Intended for tests and
	// for non-HTTP sources.
	Fetcher Fetcher
}

// Domain is a registered data domain.
type Domain struct {
	name    string
	policy  store.Policy
	fetcher Fetcher
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Policy returns the domain's expiry policy.
func (d *Domain) Policy() store.Policy { return d.policy }

// Fetcher returns the domain's request capability.
func (d *Domain) Fetcher() Fetcher { return d.fetcher }

// Registry holds the set of known domains.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Lookup returns ErrUnknownDomain for unregistered names.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]*Domain)}
}

// Register validates cfg, expands any environment references in its API key,
// and adds the domain to the registry.
func (r *Registry) Register(cfg Config) (*Domain, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}
	if cfg.Fetcher == nil && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: domain %q", ErrMissingSource, cfg.Name)
	}

	pol := cfg.Policy
	if pol == (store.Policy{}) {
		pol = DefaultPolicy(cfg.Name)
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		apiKey := cfg.APIKey
		if apiKey != "" {
			expanded, err := ExpandSecret(apiKey)
			if err != nil {
				return nil, fmt.Errorf("domain %q: %w", cfg.Name, err)
			}
			apiKey = expanded
		}
		fetcher = NewHTTPFetcher(HTTPConfig{
			BaseURL:      cfg.BaseURL,
			APIKey:       apiKey,
			APIKeyHeader: cfg.APIKeyHeader,
			Tokens:       cfg.Tokens,
			Timeout:      cfg.Timeout,
		})
	}

	d := &Domain{name: cfg.Name, policy: pol, fetcher: fetcher}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domains[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, cfg.Name)
	}
	r.domains[cfg.Name] = d
	return d, nil
}

// Lookup returns the domain registered under name.
func (r *Registry) Lookup(name string) (*Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d, nil
}

// Names returns the registered domain names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	return names
}
