package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during normalization. They
// carry attribution state, not resource identity.
var trackingParams = map[string]struct{}{
	"gclid":    {},
	"fbclid":   {},
	"msclkid":  {},
	"ref":      {},
	"referrer": {},
	"mc_cid":   {},
	"mc_eid":   {},
	"igshid":   {},
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and fragments,
// strips tracking parameters, and sorts the surviving query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func isTrackingParam(key string) bool {
	if strings.HasPrefix(strings.ToLower(key), "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// HashURL returns the hex SHA-256 digest of a normalized URL. It is the
// dedup key everywhere a URL identity is compared.
func HashURL(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
