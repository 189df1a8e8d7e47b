package offchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pricechain/native/symbolprice"
)

const (
	// DefaultSourceURL is the public BTC/USD quote endpoint.
	DefaultSourceURL = "https://min-api.cryptocompare.com/data/price?fsym=BTC&tsyms=USD"
	// DefaultFetchTimeout bounds a single fetch, connection and body included.
	DefaultFetchTimeout = 2 * time.Second
	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 64 << 10
)

var (
	// ErrUnexpectedStatus is returned for any non-200 response.
	ErrUnexpectedStatus = errors.New("offchain: unexpected status")
	// ErrInvalidBody is returned for oversize or non UTF-8 bodies.
	ErrInvalidBody = errors.New("offchain: invalid response body")
	// ErrNoPrice is returned when the body does not carry a usable price.
	ErrNoPrice = errors.New("offchain: no price in response")
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher fetches the current price from a JSON endpoint.
type HTTPFetcher struct {
	client  HTTPDoer
	url     string
	timeout time.Duration
}

var _ symbolprice.LiveSource = (*HTTPFetcher)(nil)

// FetcherOption customises an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient overrides the instrumented default client.
func WithHTTPClient(client HTTPDoer) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewHTTPFetcher builds a fetcher for url, DefaultSourceURL when empty.
func NewHTTPFetcher(url string, opts ...FetcherOption) *HTTPFetcher {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultSourceURL
	}
	f := &HTTPFetcher{
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		url:     url,
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FetchPrice issues one GET under the fetch deadline and extracts the price.
func (f *HTTPFetcher) FetchPrice(ctx context.Context) (symbolprice.Price, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("offchain: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return 0, fmt.Errorf("offchain: read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return 0, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidBody, maxBodyBytes)
	}
	if !utf8.Valid(body) {
		return 0, fmt.Errorf("%w: not UTF-8", ErrInvalidBody)
	}
	price, ok := symbolprice.ExtractPrice(body)
	if !ok {
		return 0, ErrNoPrice
	}
	return price, nil
}
