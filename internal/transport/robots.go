package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsBodyLimit = 512 * 1024

// robotsCache fetches and caches one robots.txt policy per host. A fetch
// failure or a non-2xx/4xx answer is treated as allow-all so a flaky robots
// endpoint never stalls the crawl.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu        sync.Mutex
	byHost    map[string]*robotstxt.RobotsData
	fetchedAt map[string]time.Time
	ttl       time.Duration
}

func newRobotsCache(userAgent string, timeout time.Duration) *robotsCache {
	return &robotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		byHost:    make(map[string]*robotstxt.RobotsData),
		fetchedAt: make(map[string]time.Time),
		ttl:       time.Hour,
	}
}

// Allowed reports whether the configured user agent may fetch rawURL.
func (c *robotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url for robots check: %w", err)
	}

	data := c.policyFor(ctx, u)
	if data == nil {
		return true, nil
	}
	return data.FindGroup(c.userAgent).Test(u.Path), nil
}

func (c *robotsCache) policyFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Scheme + "://" + u.Host

	c.mu.Lock()
	data, ok := c.byHost[host]
	fresh := ok && time.Since(c.fetchedAt[host]) < c.ttl
	c.mu.Unlock()
	if fresh {
		return data
	}

	data = c.fetch(ctx, host)

	c.mu.Lock()
	c.byHost[host] = data
	c.fetchedAt[host] = time.Now()
	c.mu.Unlock()
	return data
}

// fetch returns nil (allow-all) when the robots file cannot be retrieved or
// parsed.
func (c *robotsCache) fetch(ctx context.Context, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}
