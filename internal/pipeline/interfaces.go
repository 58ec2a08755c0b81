package pipeline

import (
	"context"
	"time"
)

// Transport turns a URL into raw page content. Implementations may wrap a
// plain HTTP client or a full browser session; each worker owns its own
// instance and Fetch must be safe to call repeatedly on it.
type Transport interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration) (Page, error)
	Close(ctx context.Context) error
}

// TransportFactory builds one Transport per worker. No transport object is
// ever shared across workers.
type TransportFactory func(ctx context.Context) (Transport, error)

// Extractor turns raw page content into a listing record. Site-specific and
// pluggable.
type Extractor interface {
	Extract(page Page) (Record, ExtractionHints, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// RetryPolicy decides whether and when a failed fetch is reattempted.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
