package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pipeline"
)

// BrowserTransport renders pages with headless Chrome. Each instance owns
// one browser process; each Fetch runs in a fresh tab.
type BrowserTransport struct {
	opts        Options
	limiter     *DomainLimiter
	robots      *robotsCache
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowserTransport starts a browser allocator and wraps it in a
// Transport.
func NewBrowserTransport(opts Options, robots *robotsCache, limiter *DomainLimiter) (*BrowserTransport, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if robots == nil && opts.RespectRobots {
		robots = newRobotsCache(opts.UserAgent, 10*time.Second)
	}
	if limiter == nil {
		limiter = NewDomainLimiter(opts.PerDomainRPS)
	}

	chromeOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), chromeOpts...)

	return &BrowserTransport{
		opts:        opts,
		limiter:     limiter,
		robots:      robots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      opts.Logger,
	}, nil
}

// Fetch navigates to rawURL and returns the rendered DOM.
func (t *BrowserTransport) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (pipeline.Page, error) {
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

	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	tabCtx, tabCancel := chromedp.NewContext(t.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	// Honor caller cancellation, which chromedp contexts do not inherit.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var status int
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && resp.Response != nil {
				status = int(resp.Response.Status)
			}
		}
	})

	start := time.Now()
	html, finalURL, err := t.navigate(tabCtx, rawURL)
	metrics.ObserveFetch("browser", fetchResult(err), time.Since(start))
	if err != nil {
		return pipeline.Page{}, err
	}

	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	if status >= 400 {
		return pipeline.Page{}, &pipeline.StatusError{URL: rawURL, Code: status}
	}

	return pipeline.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (t *BrowserTransport) navigate(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		t.sessionSetup(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("browser fetch %s: %w", rawURL, err)
	}
	return html, finalURL, nil
}

func (t *BrowserTransport) sessionSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close shuts the browser down.
func (t *BrowserTransport) Close(_ context.Context) error {
	t.allocCancel()
	return nil
}

func fetchResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
