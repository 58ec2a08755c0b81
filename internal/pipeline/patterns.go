package pipeline

import (
	"net/url"
	"strings"
)

// ListingClassifier decides whether a hyperlink target points at a resource
// detail page. Deny patterns win over allow patterns; both match against the
// URL path, case-insensitively. A pattern prefixed with "^" anchors at the
// start of the path, anything else matches as a substring.
type ListingClassifier struct {
	host  string
	allow []pathPattern
	deny  []pathPattern
}

type pathPattern struct {
	value    string
	anchored bool
}

// NewListingClassifier compiles the allow/deny pattern sets. The host of
// baseURL restricts classification to same-site links; an empty baseURL
// accepts any host.
func NewListingClassifier(baseURL string, allow, deny []string) *ListingClassifier {
	c := &ListingClassifier{}
	if u, err := url.Parse(baseURL); err == nil {
		c.host = strings.ToLower(u.Host)
	}
	c.allow = compilePatterns(allow)
	c.deny = compilePatterns(deny)
	return c
}

func compilePatterns(raw []string) []pathPattern {
	patterns := make([]pathPattern, 0, len(raw))
	for _, r := range raw {
		value := strings.ToLower(strings.TrimSpace(r))
		if value == "" {
			continue
		}
		anchored := strings.HasPrefix(value, "^")
		patterns = append(patterns, pathPattern{
			value:    strings.TrimPrefix(value, "^"),
			anchored: anchored,
		})
	}
	return patterns
}

// IsListingURL reports whether the URL should enter the frontier.
func (c *ListingClassifier) IsListingURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if c.host != "" && strings.ToLower(u.Host) != c.host {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, p := range c.deny {
		if p.matches(path) {
			return false
		}
	}
	for _, p := range c.allow {
		if p.matches(path) {
			return true
		}
	}
	return false
}

func (p pathPattern) matches(path string) bool {
	if p.anchored {
		return strings.HasPrefix(path, p.value)
	}
	return strings.Contains(path, p.value)
}
