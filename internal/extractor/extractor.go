// Package extractor parses listing pages into structured records.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/marketscout/crawler/internal/pipeline"
)

// ErrNoContent is returned when no configured selector matched anything,
// which usually means a blocked page or a site layout change.
var ErrNoContent = errors.New("no listing content found")

// Selectors maps record fields to CSS selectors. Empty entries are skipped.
type Selectors struct {
	Title       string
	Price       string
	Description string
	Locality    string
	Attributes  string
	Images      string
	Contact     string
}

// DefaultSelectors covers common listing-page markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       "h1",
		Price:       `[class*="price"], [data-price]`,
		Description: `[class*="description"], [itemprop="description"]`,
		Locality:    `[class*="location"], [class*="locality"], address`,
		Attributes:  `[class*="attribute"] li, [class*="feature"] li, ul.params li`,
		Images:      `[class*="gallery"] img, [class*="photo"] img, picture img`,
		Contact:     `[class*="contact"], [class*="seller"], [class*="agent"]`,
	}
}

// ListingExtractor implements pipeline.Extractor with goquery.
type ListingExtractor struct {
	sel Selectors
}

// New builds an extractor; zero-value fields in sel fall back to defaults.
func New(sel Selectors) *ListingExtractor {
	def := DefaultSelectors()
	if sel.Title == "" {
		sel.Title = def.Title
	}
	if sel.Price == "" {
		sel.Price = def.Price
	}
	if sel.Description == "" {
		sel.Description = def.Description
	}
	if sel.Locality == "" {
		sel.Locality = def.Locality
	}
	if sel.Attributes == "" {
		sel.Attributes = def.Attributes
	}
	if sel.Images == "" {
		sel.Images = def.Images
	}
	if sel.Contact == "" {
		sel.Contact = def.Contact
	}
	return &ListingExtractor{sel: sel}
}

// Extract parses the page body and pulls out every field a selector hits.
func (e *ListingExtractor) Extract(page pipeline.Page) (pipeline.Record, pipeline.ExtractionHints, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, pipeline.ExtractionHints{}, fmt.Errorf("parse %s: %w", page.URL, err)
	}

	record := pipeline.Record{}
	hits := 0
	total := 0

	text := func(field, selector string) {
		total++
		if v := firstText(doc, selector); v != "" {
			record[field] = v
			hits++
		}
	}
	text("title", e.sel.Title)
	text("price", e.sel.Price)
	text("description", e.sel.Description)
	text("locality", e.sel.Locality)
	text("contact", e.sel.Contact)

	total++
	if attrs := allTexts(doc, e.sel.Attributes); len(attrs) > 0 {
		record["attributes"] = attrs
		hits++
	}
	total++
	if imgs := imageSources(doc, e.sel.Images); len(imgs) > 0 {
		record["images"] = imgs
		hits++
	}

	if hits == 0 {
		return nil, pipeline.ExtractionHints{}, fmt.Errorf("extract %s: %w", page.URL, ErrNoContent)
	}

	record["url"] = canonicalURL(page)

	hints := pipeline.ExtractionHints{
		SelectorHits: hits,
		Confidence:   float64(hits) / float64(total),
	}
	return record, hints, nil
}

func canonicalURL(page pipeline.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func allTexts(doc *goquery.Document, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v := strings.TrimSpace(s.Text()); v != "" {
			out = append(out, v)
		}
	})
	return out
}

func imageSources(doc *goquery.Document, selector string) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			src, _ = s.Attr("data-src")
		}
		if src == "" {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		out = append(out, src)
	})
	return out
}
