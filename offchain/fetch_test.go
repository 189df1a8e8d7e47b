package offchain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFeed(t *testing.T, handler http.HandlerFunc) *HTTPFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPFetcher(srv.URL, WithHTTPClient(srv.Client()), WithFetchTimeout(200*time.Millisecond))
}

func TestHTTPFetcherSuccess(t *testing.T) {
	fetcher := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"USD": 23456.78}`))
	})
	price, err := fetcher.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if price != 2345678 {
		t.Fatalf("unexpected price %d", price)
	}
}

func TestHTTPFetcherFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }, ErrUnexpectedStatus},
		{"utf8", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte{'{', 0xff, '}'}) }, ErrInvalidBody},
		{"oversize", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"pad":"` + strings.Repeat("x", maxBodyBytes) + `","USD":1}`))
		}, ErrInvalidBody},
		{"missing", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"EUR": 1}`)) }, ErrNoPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newFeed(t, tc.handler).FetchPrice(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHTTPFetcherDeadline(t *testing.T) {
	release := make(chan struct{})
	fetcher := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	start := time.Now()
	_, err := fetcher.FetchPrice(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fetch did not honour its deadline: %s", elapsed)
	}
}

func TestNewHTTPFetcherDefaults(t *testing.T) {
	f := NewHTTPFetcher("  ")
	if f.url != DefaultSourceURL || f.timeout != DefaultFetchTimeout {
		t.Fatalf("unexpected defaults %s %s", f.url, f.timeout)
	}
}
