package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "geoquery",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token failed: %v", err)
	}
	return s
}

func TestTokenProvider_CachesUntilExpiry(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{now: base}
	nowFn := func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	}
	advance := func(d time.Duration) {
		clock.mu.Lock()
		clock.now = clock.now.Add(d)
		clock.mu.Unlock()
	}

	var calls atomic.Int64
	token := signedJWT(t, base.Add(10*time.Minute))
	p := NewTokenProvider(func(ctx context.Context) (string, error) {
		calls.Add(1)
		return token, nil
	}, WithTokenClock(nowFn))

	for i := 0; i < 3; i++ {
		got, err := p.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if got != token {
			t.Fatalf("Token = %q, want the issued JWT", got)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("source called %d times while token valid, want 1", got)
	}

	// Within the leeway window of expiry the provider refreshes.
	advance(9*time.Minute + 30*time.Second)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("source called %d times after expiry approached, want 2", got)
	}
}

func TestTokenProvider_OpaqueTokenRefreshInterval(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var calls atomic.Int64
	p := NewTokenProvider(func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "opaque", nil
	}, WithTokenClock(nowFn), WithRefreshInterval(10*time.Minute))

	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("source called %d times inside refresh interval, want 1", got)
	}

	mu.Lock()
	now = now.Add(11 * time.Minute)
	mu.Unlock()

	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("source called %d times past refresh interval, want 2", got)
	}
}

func TestTokenProvider_GracefulDegradation(t *testing.T) {
	var fail atomic.Bool
	p := NewTokenProvider(func(ctx context.Context) (string, error) {
		if fail.Load() {
			return "", errors.New("identity endpoint down")
		}
		return "opaque", nil
	}, WithRefreshInterval(0)) // refresh due on every call

	got, err := p.Token(context.Background())
	if err != nil || got != "opaque" {
		t.Fatalf("Token = %q, %v", got, err)
	}

	fail.Store(true)
	got, err = p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token should fall back to cached value, got error: %v", err)
	}
	if got != "opaque" {
		t.Errorf("Token = %q, want the cached opaque token", got)
	}
}

func TestTokenProvider_InitialFailure(t *testing.T) {
	errDown := errors.New("identity endpoint down")
	p := NewTokenProvider(func(ctx context.Context) (string, error) {
		return "", errDown
	})

	if _, err := p.Token(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Token = %v, want the source error when nothing is cached", err)
	}
}

func TestTokenProvider_EmptyToken(t *testing.T) {
	p := NewTokenProvider(func(ctx context.Context) (string, error) {
		return "", nil
	})

	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token = %v, want ErrNoToken", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tok := signedJWT(t, exp)

	if got := tokenExpiry(tok); !got.Equal(exp) {
		t.Errorf("tokenExpiry = %v, want %v", got, exp)
	}
	if got := tokenExpiry("not-a-jwt"); !got.IsZero() {
		t.Errorf("tokenExpiry on opaque token = %v, want zero", got)
	}
}
