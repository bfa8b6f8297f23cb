package domain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// ErrNoToken indicates the token source returned an empty token.
var ErrNoToken = errors.New("domain: token source returned an empty token")

// TokenSource obtains a fresh bearer token, e.g. by exchanging credentials
// against an identity endpoint.
type TokenSource func(ctx context.Context) (string, error)

// TokenProvider caches a bearer token for an authenticated feed and
// refreshes it through singleflight so concurrent requests never trigger
// more than one exchange.
//
// When the token is a JWT its expiry is read from the claims (unverified
// parse; this client is not the token's audience and only needs the
// timestamp). Non-JWT tokens are refreshed every RefreshInterval.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: a refresh failure degrades gracefully to the last token when
//   one is cached; otherwise the error is returned.
type TokenProvider struct {
	source TokenSource

	// Leeway is how long before expiry a token is considered due for
	// refresh. Default: 1 minute.
	leeway time.Duration

	// refreshInterval applies to tokens without a readable expiry.
	// Default: 30 minutes.
	refreshInterval time.Duration

	now func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time // zero when unknown
	fetchedAt time.Time

	sfGroup singleflight.Group // prevents thundering herd
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithLeeway sets how long before expiry a refresh is scheduled.
func WithLeeway(d time.Duration) TokenOption {
	return func(p *TokenProvider) { p.leeway = d }
}

// WithRefreshInterval sets the refresh cadence for opaque tokens.
func WithRefreshInterval(d time.Duration) TokenOption {
	return func(p *TokenProvider) { p.refreshInterval = d }
}

// WithTokenClock overrides the provider's time source. Intended for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) { p.now = now }
}

// NewTokenProvider creates a provider over the given source.
func NewTokenProvider(source TokenSource, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		source:          source,
		leeway:          time.Minute,
		refreshInterval: 30 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a valid bearer token, refreshing it when due.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	token := p.token
	valid := token != "" && !p.dueLocked()
	p.mu.RUnlock()

	if valid {
		return token, nil
	}

	_, err, _ := p.sfGroup.Do("refresh", func() (any, error) {
		return nil, p.refresh(ctx)
	})
	if err != nil {
		// On refresh failure, fall back to the cached token if we have one.
		p.mu.RLock()
		token := p.token
		p.mu.RUnlock()
		if token != "" {
			return token, nil
		}
		return "", err
	}

	p.mu.RLock()
	token = p.token
	p.mu.RUnlock()
	return token, nil
}

// dueLocked reports whether the cached token needs a refresh.
// Caller must hold at least RLock.
func (p *TokenProvider) dueLocked() bool {
	now := p.now()
	if !p.expiresAt.IsZero() {
		return now.Add(p.leeway).After(p.expiresAt)
	}
	return now.Sub(p.fetchedAt) >= p.refreshInterval
}

func (p *TokenProvider) refresh(ctx context.Context) error {
	token, err := p.source(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoToken
	}

	p.mu.Lock()
	p.token = token
	p.fetchedAt = p.now()
	p.expiresAt = tokenExpiry(token)
	p.mu.Unlock()
	return nil
}

// tokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Returns the zero time for opaque tokens or tokens without an
// expiry.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
