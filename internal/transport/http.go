// Package transport provides the page-fetch layer: a Colly-backed HTTP
// client and a chromedp-backed headless browser, both behind the same
// Transport contract.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pipeline"
)

// ErrRobotsDisallowed marks a URL the site's robots policy forbids.
var ErrRobotsDisallowed = errors.New("url disallowed by robots.txt")

// Options tunes both transport kinds.
type Options struct {
	UserAgent     string
	RespectRobots bool
	PerDomainRPS  float64
	Logger        *zap.Logger
}

// HTTPTransport fetches pages over plain HTTP using a Colly collector.
type HTTPTransport struct {
	opts    Options
	base    *colly.Collector
	robots  *robotsCache
	limiter *DomainLimiter
	logger  *zap.Logger
}

// NewHTTPTransport builds an HTTP transport. robots and limiter may be
// shared across instances; pass nil to give the transport private ones.
func NewHTTPTransport(opts Options, robots *robotsCache, limiter *DomainLimiter) *HTTPTransport {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if robots == nil && opts.RespectRobots {
		robots = newRobotsCache(opts.UserAgent, 10*time.Second)
	}
	if limiter == nil {
		limiter = NewDomainLimiter(opts.PerDomainRPS)
	}

	// Revisits must stay allowed so retries of a failed URL are not
	// rejected by the collector's visited-set.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true // checked explicitly before each fetch
	c.WithTransport(newPooledTransport())

	return &HTTPTransport{
		opts:    opts,
		base:    c,
		robots:  robots,
		limiter: limiter,
		logger:  opts.Logger,
	}
}

// Fetch performs a single GET and returns the raw page.
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (pipeline.Page, error) {
	if t.opts.RespectRobots {
		allowed, err := t.robots.Allowed(ctx, rawURL)
		if err != nil {
			return pipeline.Page{}, err
		}
		if !allowed {
			return pipeline.Page{}, fmt.Errorf("fetch %s: %w", rawURL, ErrRobotsDisallowed)
		}
	}
	if err := t.limiter.Wait(ctx, rawURL); err != nil {
		return pipeline.Page{}, err
	}

	start := time.Now()
	page, err := t.visit(ctx, rawURL, timeout, start)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveFetch("http", result, time.Since(start))
	return page, err
}

func (t *HTTPTransport) visit(ctx context.Context, rawURL string, timeout time.Duration, start time.Time) (pipeline.Page, error) {
	var (
		page     pipeline.Page
		fetchErr error
	)

	collector := t.base.Clone()
	if t.opts.UserAgent != "" {
		collector.UserAgent = t.opts.UserAgent
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		page = pipeline.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &pipeline.StatusError{URL: rawURL, Code: r.StatusCode}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return pipeline.Page{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return pipeline.Page{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if err != nil {
			return pipeline.Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		return page, nil
	}
}

// Close is a no-op for the HTTP transport.
func (t *HTTPTransport) Close(_ context.Context) error {
	return nil
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
