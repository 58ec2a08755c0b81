package discovery

import (
	"strconv"
	"strings"

	"github.com/marketscout/crawler/internal/config"
	"github.com/marketscout/crawler/internal/pipeline"
)

// Scorer maps card metadata onto a frontier priority tier using a tunable
// keyword and price table.
type Scorer struct {
	highKeywords   []string
	lowKeywords    []string
	highPriceAbove float64
}

// NewScorer compiles the priority table.
func NewScorer(cfg config.PriorityConfig) *Scorer {
	return &Scorer{
		highKeywords:   lowerAll(cfg.HighKeywords),
		lowKeywords:    lowerAll(cfg.LowKeywords),
		highPriceAbove: cfg.HighPriceAbove,
	}
}

// Score picks the tier. High signals win over low ones so a price drop on a
// shared flat still surfaces early.
func (s *Scorer) Score(meta pipeline.ListingMetadata) pipeline.Priority {
	title := strings.ToLower(meta.Title)
	for _, kw := range s.highKeywords {
		if strings.Contains(title, kw) {
			return pipeline.PriorityHigh
		}
	}
	if s.highPriceAbove > 0 {
		if price, ok := parsePrice(meta.PriceText); ok && price > s.highPriceAbove {
			return pipeline.PriorityHigh
		}
	}
	for _, kw := range s.lowKeywords {
		if strings.Contains(title, kw) {
			return pipeline.PriorityLow
		}
	}
	return pipeline.PriorityNormal
}

// parsePrice pulls the leading numeric value out of free-form price text
// such as "€ 320,000" or "450.000 EUR". Thousands separators are dropped.
func parsePrice(text string) (float64, bool) {
	var digits strings.Builder
	seen := false
scan:
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			seen = true
		case r == '.' || r == ',' || r == ' ' || r == ' ':
			// separators inside a number are dropped
		default:
			if seen {
				break scan
			}
		}
	}
	if !seen {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.ToLower(strings.TrimSpace(s)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
