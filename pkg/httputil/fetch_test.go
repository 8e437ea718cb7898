package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastFetcher(opts ...Option) *Fetcher {
	return NewFetcher(append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)...)
}

func TestFetch_Success(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	body, err := fastFetcher(WithUserAgent("ecmalinks/test")).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "<html></html>" {
		t.Errorf("body = %q", body)
	}
	if got := ua.Load(); got != "ecmalinks/test" {
		t.Errorf("user agent = %v", got)
	}
}

func TestFetch_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := fastFetcher(WithRetries(3)).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastFetcher(WithRetries(2)).Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestFetch_NoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastFetcher().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrStatus) {
		t.Errorf("err = %v, want ErrStatus", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := fastFetcher(WithMaxBytes(10)).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}

	body, err := fastFetcher(WithMaxBytes(100)).Fetch(context.Background(), srv.URL)
	if err != nil || len(body) != 100 {
		t.Errorf("exact limit: len = %d, err = %v", len(body), err)
	}
}

func TestFetch_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(WithRetries(5), WithBackoff(time.Second, time.Second))
	if _, err := f.Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestFetch_DelayCapped(t *testing.T) {
	f := NewFetcher(WithBackoff(100*time.Millisecond, 200*time.Millisecond))
	for attempt := 1; attempt <= 20; attempt++ {
		if d := f.delay(attempt); d < 0 || d > 200*time.Millisecond {
			t.Errorf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
