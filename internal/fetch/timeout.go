package fetch

import (
	"context"
	"time"

	"github.com/rshade/mktcache/internal/dataset"
)

// TimeoutFetcher bounds each call of the wrapped fetcher.
type TimeoutFetcher struct {
	inner   Fetcher
	timeout time.Duration
}

// WithTimeout wraps f so that every Fetch runs under a context deadline.
// A non-positive timeout returns f unchanged.
func WithTimeout(f Fetcher, timeout time.Duration) Fetcher {
	if timeout <= 0 {
		return f
	}
	return &TimeoutFetcher{inner: f, timeout: timeout}
}

// Fetch implements Fetcher.
func (t *TimeoutFetcher) Fetch(ctx context.Context) (*dataset.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Fetch(ctx)
}
