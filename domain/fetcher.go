package domain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher is the request capability a domain exposes to the query runner.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Request must honor cancellation/deadlines.
// - Errors: transport and HTTP-status failures are reported as
//   *RequestError; the response body is returned only on success.
type Fetcher interface {
	Request(ctx context.Context, method, requestURL string, body []byte) ([]byte, error)
}

// RequestError reports a failed request against a remote domain API.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int // zero for transport-level failures
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("domain: %s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("domain: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying transport error, if any.
func (e *RequestError) Unwrap() error { return e.Err }

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// BaseURL is the root endpoint relative request URLs resolve against.
	BaseURL string

	// APIKey, when non-empty, is sent with every request.
	APIKey string

	// APIKeyHeader is the header carrying APIKey.
	// Default: "X-API-Key"
	APIKeyHeader string

	// Tokens supplies bearer tokens. Optional.
	Tokens *TokenProvider

	// Timeout bounds each request.
	// Default: 30s
	Timeout time.Duration

	// Client overrides the HTTP client. If nil, a client with Timeout is used.
	Client *http.Client
}

// HTTPFetcher is the default Fetcher over net/http.
type HTTPFetcher struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for one domain endpoint.
func NewHTTPFetcher(config HTTPConfig) *HTTPFetcher {
	// Apply defaults
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPFetcher{config: config, client: client}
}

// Request performs one HTTP request and returns the response body.
// requestURL may be absolute or relative to the configured base URL.
func (f *HTTPFetcher) Request(ctx context.Context, method, requestURL string, body []byte) ([]byte, error) {
	target, err := f.resolve(requestURL)
	if err != nil {
		return nil, &RequestError{Method: method, URL: requestURL, Err: err}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &RequestError{Method: method, URL: target, Err: err}
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.config.APIKey != "" {
		req.Header.Set(f.config.APIKeyHeader, f.config.APIKey)
	}
	if f.config.Tokens != nil {
		token, err := f.config.Tokens.Token(ctx)
		if err != nil {
			return nil, &RequestError{Method: method, URL: target, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Method: method, URL: target, StatusCode: resp.StatusCode}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, URL: target, Err: err}
	}
	return payload, nil
}

// resolve joins requestURL onto the base URL unless it is already absolute.
func (f *HTTPFetcher) resolve(requestURL string) (string, error) {
	if strings.HasPrefix(requestURL, "http://") || strings.HasPrefix(requestURL, "https://") {
		return requestURL, nil
	}
	base, err := url.Parse(f.config.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(requestURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Ensure HTTPFetcher implements Fetcher
var _ Fetcher = (*HTTPFetcher)(nil)
