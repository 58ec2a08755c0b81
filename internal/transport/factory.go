package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/marketscout/crawler/internal/pipeline"
)

// Factory returns a TransportFactory for the configured kind. All transports
// built from one factory share a robots cache and a per-domain rate limiter,
// so politeness holds pool-wide no matter how many workers run.
func Factory(kind string, opts Options) (pipeline.TransportFactory, error) {
	var robots *robotsCache
	if opts.RespectRobots {
		robots = newRobotsCache(opts.UserAgent, 10*time.Second)
	}
	limiter := NewDomainLimiter(opts.PerDomainRPS)

	switch kind {
	case "http":
		return func(_ context.Context) (pipeline.Transport, error) {
			return NewHTTPTransport(opts, robots, limiter), nil
		}, nil
	case "browser":
		return func(_ context.Context) (pipeline.Transport, error) {
			return NewBrowserTransport(opts, robots, limiter)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
