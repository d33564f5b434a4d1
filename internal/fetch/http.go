// Package fetch provides Fetcher implementations that produce fresh datasets
// from remote sources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/dataset"
)

// DefaultUserAgent is sent with every HTTP request unless overridden by a header.
const DefaultUserAgent = "mktcache/1.0"

// Fetcher produces a fresh dataset.
type Fetcher interface {
	Fetch(ctx context.Context) (*dataset.Dataset, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context) (*dataset.Dataset, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context) (*dataset.Dataset, error) { return f(ctx) }

// HTTPFetcher downloads a CSV document and parses it into a dataset.
type HTTPFetcher struct {
	url      string
	encoding string
	headers  map[string]string
	client   *http.Client
	logger   zerolog.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithEncoding sets the text encoding of the response body (utf-8, gbk, gb18030).
func WithEncoding(encoding string) HTTPOption {
	return func(f *HTTPFetcher) { f.encoding = encoding }
}

// WithHeader adds a request header.
func WithHeader(key, value string) HTTPOption {
	return func(f *HTTPFetcher) { f.headers[key] = value }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) HTTPOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher for the CSV at url.
func NewHTTPFetcher(url string, opts ...HTTPOption) (*HTTPFetcher, error) {
	f := &HTTPFetcher{
		url:     url,
		headers: map[string]string{"User-Agent": DefaultUserAgent},
		client:  http.DefaultClient,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if url == "" {
		return nil, errors.New("fetch url cannot be empty")
	}
	if err := dataset.ValidateEncoding(f.encoding); err != nil {
		return nil, err
	}
	return f, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*dataset.Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", f.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("requesting %s: unexpected status %s", f.url, resp.Status)
	}

	body, err := dataset.DecodingReader(resp.Body, f.encoding)
	if err != nil {
		return nil, err
	}
	d, err := dataset.ReadCSV(body)
	if err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", f.url, err)
	}

	f.logger.Debug().
		Str("url", f.url).
		Int("rows", d.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("dataset downloaded")
	return d, nil
}
