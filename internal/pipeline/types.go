// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// Priority orders candidate URLs inside the frontier. Higher values win.
type Priority int

// Priority tiers, low to high.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the persisted representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority converts a persisted priority back into its typed form.
// Unknown values fold to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Status represents the processing lifecycle of a candidate URL.
type Status string

// Status values persisted in the discovered_urls table.
const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusRetired  Status = "retired"
)

// ListingMetadata is the lightweight context captured from the index page
// around a discovered link. It drives priority scoring; the authoritative
// record comes from the detail-page extraction later.
type ListingMetadata struct {
	Title     string `json:"title,omitempty"`
	PriceText string `json:"price_text,omitempty"`
	Locality  string `json:"locality,omitempty"`
}

// CandidateURL is a discovered resource reference. The normalized URL is
// unique across all non-retired states; re-discovery updates metadata in
// place and never creates a second row.
type CandidateURL struct {
	RawURL       string          `json:"raw_url" db:"url"`
	URL          string          `json:"url" db:"normalized_url"`
	URLHash      string          `json:"url_hash" db:"url_hash"`
	SourcePage   string          `json:"source_page" db:"source_page"`
	DiscoveredAt time.Time       `json:"discovered_at" db:"discovery_time"`
	Priority     Priority        `json:"priority"`
	Metadata     ListingMetadata `json:"metadata"`
	Status       Status          `json:"status" db:"status"`
}

// TrackedResource is the freshness/quality record for a resource that has
// been fetched at least once. The tracker, not the frontier, is authoritative
// for "do we already have this".
type TrackedResource struct {
	URLHash           string     `json:"url_hash" db:"url_hash"`
	URL               string     `json:"url" db:"url"`
	FirstSeen         time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen          time.Time  `json:"last_seen" db:"last_seen"`
	SeenCount         int        `json:"seen_count" db:"seen_count"`
	ExtractionOK      bool       `json:"extraction_success" db:"extraction_success"`
	QualityScore      float64    `json:"quality_score" db:"quality_score"`
	RetryCount        int        `json:"retry_count" db:"retry_count"`
	ForceRefreshAfter *time.Time `json:"force_refresh_after,omitempty" db:"force_refresh_after"`
}

// ScrapeSession captures one discovery+fetch run.
type ScrapeSession struct {
	ID         string     `json:"session_id" db:"session_id"`
	StartedAt  time.Time  `json:"start_time" db:"start_time"`
	FinishedAt *time.Time `json:"end_time,omitempty" db:"end_time"`
	Requested  int        `json:"requested" db:"requested"`
	NewCount   int        `json:"new_count" db:"new_count"`
	DupCount   int        `json:"duplicate_count" db:"duplicate_count"`
	FailCount  int        `json:"failed_count" db:"failed_count"`
	ConfigJSON string     `json:"config_json" db:"config_json"`
}

// Record is the extracted listing record. Its shape is owned by the
// extractor; the pipeline only inspects field presence for quality scoring.
type Record map[string]any

// Page is the raw result of fetching a URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// ExtractionHints carries extractor confidence signals alongside the record.
type ExtractionHints struct {
	SelectorHits int
	Confidence   float64
}

// FetchOutcome is the explicit result of one fetch+extract attempt. Worker
// loops branch on it; errors never drive control flow by themselves.
type FetchOutcome struct {
	OK        bool
	Record    Record
	Hints     ExtractionHints
	Retryable bool
	Err       error
}
