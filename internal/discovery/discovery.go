// Package discovery walks paginated listing-index pages, classifies the
// links it finds, and feeds accepted candidates into the URL frontier. It
// consults the batch validator after every page and stops on its own when
// discovery keeps landing in old territory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/config"
	"github.com/marketscout/crawler/internal/frontier"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/report"
	"github.com/marketscout/crawler/internal/validator"
)

// Frontier is the slice of the URL frontier discovery needs.
type Frontier interface {
	Add(ctx context.Context, cand pipeline.CandidateURL) (bool, error)
	Depth() int
}

// BatchValidator checks a page's harvest against crawl history.
type BatchValidator interface {
	Validate(ctx context.Context, urls []string, lastScrape time.Time) (validator.Result, error)
}

// Result summarizes one discovery run.
type Result struct {
	PagesVisited   int
	LinksFound     int
	Accepted       int
	Duplicates     int
	StoppedEarly   bool
	StopReason     string
	LastConfidence float64
}

// Crawler walks index pages and harvests listing links.
type Crawler struct {
	transport  pipeline.Transport
	frontier   Frontier
	validator  BatchValidator
	classifier *pipeline.ListingClassifier
	scorer     *Scorer
	emitter    report.Emitter
	clock      pipeline.Clock
	logger     *zap.Logger

	cfg      config.DiscoveryConfig
	delayMin time.Duration
	delayMax time.Duration
	timeout  time.Duration
	rng      *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// Options wires a Crawler.
type Options struct {
	Transport pipeline.Transport
	Frontier  Frontier
	Validator BatchValidator
	Emitter   report.Emitter
	Clock     pipeline.Clock
	Logger    *zap.Logger

	Config       config.DiscoveryConfig
	DelayMin     time.Duration
	DelayMax     time.Duration
	FetchTimeout time.Duration
}

// New builds a Crawler.
func New(opts Options) *Crawler {
	if opts.Clock == nil {
		opts.Clock = pipeline.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Crawler{
		transport:  opts.Transport,
		frontier:   opts.Frontier,
		validator:  opts.Validator,
		classifier: pipeline.NewListingClassifier(opts.Config.BaseURL, opts.Config.AllowPatterns, opts.Config.DenyPatterns),
		scorer:     NewScorer(opts.Config.Priority),
		emitter:    opts.Emitter,
		clock:      opts.Clock,
		logger:     opts.Logger,
		cfg:        opts.Config,
		delayMin:   opts.DelayMin,
		delayMax:   opts.DelayMax,
		timeout:    opts.FetchTimeout,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.sleep = sleepCtx
	return c
}

// Run walks index pages startPage..startPage+maxPages-1 for the given
// session. lastScrape is the end time of the previous completed session and
// feeds the freshness side of validation.
func (c *Crawler) Run(ctx context.Context, startPage, maxPages int, sessionID string, lastScrape time.Time) (Result, error) {
	var res Result
	lowStreak := 0
	backoffDoubled := false

	for page := startPage; page < startPage+maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("discovery run: %w", err)
		}

		pageURL := c.pageURL(page)
		found, err := c.harvestPage(ctx, pageURL, sessionID, &res, &backoffDoubled)
		if err != nil {
			return res, err
		}
		res.PagesVisited++

		if len(found) == 0 {
			res.StoppedEarly = true
			res.StopReason = "index page yielded no listing links"
			c.logger.Info("stopping discovery", zap.String("reason", res.StopReason), zap.String("page", pageURL))
			return res, nil
		}

		verdict, err := c.validator.Validate(ctx, found, lastScrape)
		if err != nil {
			return res, fmt.Errorf("discovery run: %w", err)
		}
		res.LastConfidence = verdict.Confidence
		c.logger.Debug("page validated",
			zap.String("page", pageURL),
			zap.Int("links", len(found)),
			zap.Float64("confidence", verdict.Confidence),
			zap.String("recommendation", string(verdict.Recommendation)),
		)

		if verdict.Confidence <= c.cfg.LowConfidenceThreshold {
			lowStreak++
		} else {
			lowStreak = 0
		}
		if lowStreak >= c.cfg.LowConfidencePages {
			res.StoppedEarly = true
			res.StopReason = fmt.Sprintf("confidence stayed at or below %.2f for %d pages",
				c.cfg.LowConfidenceThreshold, lowStreak)
			c.logger.Info("stopping discovery", zap.String("reason", res.StopReason))
			return res, nil
		}

		if page < startPage+maxPages-1 {
			if err := c.sleep(ctx, c.pageDelay(backoffDoubled)); err != nil {
				return res, fmt.Errorf("discovery run: %w", err)
			}
		}
	}
	return res, nil
}

// harvestPage fetches one index page and enqueues its listing links. It
// returns the normalized URLs found, duplicates included, for validation.
func (c *Crawler) harvestPage(ctx context.Context, pageURL, sessionID string, res *Result, backoffDoubled *bool) ([]string, error) {
	page, err := c.transport.Fetch(ctx, pageURL, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("fetch index page %s: %w", pageURL, err)
	}

	cards, err := c.scanLinks(page)
	if err != nil {
		return nil, err
	}

	found := make([]string, 0, len(cards))
	for _, card := range cards {
		normalized, err := pipeline.NormalizeURL(card.href)
		if err != nil {
			continue
		}
		found = append(found, normalized)
		res.LinksFound++

		cand := pipeline.CandidateURL{
			RawURL:     card.href,
			URL:        normalized,
			URLHash:    pipeline.HashURL(normalized),
			SourcePage: pageURL,
			Priority:   c.scorer.Score(card.meta),
			Metadata:   card.meta,
		}
		accepted, err := c.frontier.Add(ctx, cand)
		switch {
		case errors.Is(err, frontier.ErrFull):
			// Backpressure: slow page turning down once and move on. The
			// dropped link is rediscovered on a later pass.
			if !*backoffDoubled {
				*backoffDoubled = true
				c.logger.Warn("frontier full, doubling page delay", zap.String("page", pageURL))
			}
		case err != nil:
			return nil, fmt.Errorf("enqueue %s: %w", normalized, err)
		case accepted:
			res.Accepted++
			c.emit(sessionID, report.KindDiscovered, normalized)
		default:
			res.Duplicates++
			c.emit(sessionID, report.KindDuplicate, normalized)
		}
	}
	return found, nil
}

type cardLink struct {
	href string
	meta pipeline.ListingMetadata
}

// scanLinks extracts listing anchors plus whatever card metadata sits next
// to them (title, price text, locality).
func (c *Crawler) scanLinks(page pipeline.Page) ([]cardLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page.Body)))
	if err != nil {
		return nil, fmt.Errorf("parse index page %s: %w", page.URL, err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse index page url %s: %w", page.URL, err)
	}

	seen := map[string]struct{}{}
	var out []cardLink
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !c.classifier.IsListingURL(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, cardLink{href: abs, meta: cardMetadata(a)})
	})
	return out, nil
}

// cardMetadata reads title, price, and locality from the card element the
// anchor sits in. Absent fields stay empty; priority scoring degrades to
// the normal tier.
func cardMetadata(a *goquery.Selection) pipeline.ListingMetadata {
	meta := pipeline.ListingMetadata{
		Title: strings.TrimSpace(a.Text()),
	}
	card := a.Closest(`article, li, [class*="card"], [class*="item"], [class*="result"]`)
	if card.Length() == 0 {
		return meta
	}
	if title := strings.TrimSpace(card.Find("h1, h2, h3, [class*='title']").First().Text()); title != "" {
		meta.Title = title
	}
	meta.PriceText = strings.TrimSpace(card.Find(`[class*="price"]`).First().Text())
	meta.Locality = strings.TrimSpace(card.Find(`[class*="location"], [class*="locality"]`).First().Text())
	return meta
}

func (c *Crawler) pageURL(page int) string {
	return c.cfg.BaseURL + fmt.Sprintf(c.cfg.PagePattern, page)
}

// pageDelay picks a random wait inside the configured window, doubled after
// the frontier signalled backpressure.
func (c *Crawler) pageDelay(doubled bool) time.Duration {
	d := c.delayMin
	if span := c.delayMax - c.delayMin; span > 0 {
		d += time.Duration(c.rng.Int63n(int64(span)))
	}
	if doubled {
		d *= 2
	}
	return d
}

func (c *Crawler) emit(sessionID string, kind report.Kind, u string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(report.Event{
		SessionID:     sessionID,
		TS:            c.clock.Now(),
		Kind:          kind,
		URL:           u,
		FrontierDepth: c.frontier.Depth(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
