// Package httputil fetches remote documents with retries on transient
// failures.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// Defaults for a Fetcher.
const (
	DefaultRetries  = 3
	DefaultBackoff  = 500 * time.Millisecond
	DefaultMaxWait  = 10 * time.Second
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 64 << 20
)

var (
	// ErrTooLarge is returned when a body exceeds the fetcher's size limit.
	ErrTooLarge = errors.New("response body too large")

	// ErrStatus wraps non-success HTTP responses that are not retried.
	ErrStatus = errors.New("unexpected HTTP status")
)

func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetries sets how many times a failed request is retried. Zero disables
// retries.
func WithRetries(n int) Option {
	return func(f *Fetcher) { f.retries = n }
}

// WithBackoff sets the first retry delay and the cap on later ones.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(f *Fetcher) {
		f.backoff = base
		f.maxWait = ceiling
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithMaxBytes limits the size of a fetched body.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// Fetcher downloads documents over HTTP.
type Fetcher struct {
	client    *http.Client
	retries   int
	backoff   time.Duration
	maxWait   time.Duration
	maxBytes  int64
	userAgent string
}

// NewFetcher creates a Fetcher with the package defaults.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		retries:  DefaultRetries,
		backoff:  DefaultBackoff,
		maxWait:  DefaultMaxWait,
		maxBytes: DefaultMaxBytes,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs url and returns its body. Connection errors and 429/5xx
// responses are retried with jittered exponential backoff; other non-2xx
// responses fail immediately with ErrStatus.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.delay(attempt)):
			}
		}

		body, retry, err := f.once(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s: %w (after %d retries)", url, lastErr, f.retries)
}

func (f *Fetcher) once(ctx context.Context, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if transient(resp.StatusCode) {
		return nil, true, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, url)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, true, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, false, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, f.maxBytes)
	}
	return body, false, nil
}

// delay returns the wait before the given retry (1-based): the base backoff
// doubled per attempt, capped, with full jitter.
func (f *Fetcher) delay(attempt int) time.Duration {
	d := f.backoff
	for i := 1; i < attempt && d < f.maxWait; i++ {
		d *= 2
	}
	if d > f.maxWait {
		d = f.maxWait
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
