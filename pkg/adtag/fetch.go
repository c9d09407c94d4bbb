package adtag

import (
	"context"
	"sync/atomic"
)

// Fetcher retrieves the raw document behind a URL. Implementations own
// timeouts and cancellation; any error is reported as a fetch failure.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// countingFetcher counts fetch attempts for one Process call
type countingFetcher struct {
	next  Fetcher
	count atomic.Int32
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.count.Add(1)
	return c.next.Fetch(ctx, url)
}
