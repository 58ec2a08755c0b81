package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/marketscout/crawler/internal/pipeline"
)

type trackedRow struct {
	URLHash           string       `db:"url_hash"`
	URL               string       `db:"url"`
	FirstSeen         time.Time    `db:"first_seen"`
	LastSeen          time.Time    `db:"last_seen"`
	SeenCount         int          `db:"seen_count"`
	QualityScore      float64      `db:"quality_score"`
	ExtractionSuccess bool         `db:"extraction_success"`
	RetryCount        int          `db:"retry_count"`
	ForceRefreshAfter sql.NullTime `db:"force_refresh_after"`
}

func (r trackedRow) resource() pipeline.TrackedResource {
	res := pipeline.TrackedResource{
		URLHash:      r.URLHash,
		URL:          r.URL,
		FirstSeen:    r.FirstSeen,
		LastSeen:     r.LastSeen,
		SeenCount:    r.SeenCount,
		QualityScore: r.QualityScore,
		ExtractionOK: r.ExtractionSuccess,
		RetryCount:   r.RetryCount,
	}
	if r.ForceRefreshAfter.Valid {
		t := r.ForceRefreshAfter.Time
		res.ForceRefreshAfter = &t
	}
	return res
}

// GetTracked fetches the freshness record for a URL hash. Returns ErrNotFound
// for URLs never fetched.
func (s *Store) GetTracked(ctx context.Context, urlHash string) (pipeline.TrackedResource, error) {
	var row trackedRow
	err := s.db.GetContext(ctx, &row, `
		SELECT url_hash, url, first_seen, last_seen, seen_count, quality_score,
			extraction_success, retry_count, force_refresh_after
		FROM tracked_resources
		WHERE url_hash = $1`, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.TrackedResource{}, ErrNotFound
	}
	if err != nil {
		return pipeline.TrackedResource{}, unavailable("get tracked", err)
	}
	return row.resource(), nil
}

// UpsertTracked writes the freshness record, creating it on first contact.
func (s *Store) UpsertTracked(ctx context.Context, res pipeline.TrackedResource) error {
	var refreshAfter any
	if res.ForceRefreshAfter != nil {
		refreshAfter = *res.ForceRefreshAfter
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_resources
			(url_hash, url, first_seen, last_seen, seen_count, quality_score,
			 extraction_success, retry_count, force_refresh_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url_hash) DO UPDATE SET
			url = excluded.url,
			last_seen = excluded.last_seen,
			seen_count = excluded.seen_count,
			quality_score = excluded.quality_score,
			extraction_success = excluded.extraction_success,
			retry_count = excluded.retry_count,
			force_refresh_after = excluded.force_refresh_after`,
		res.URLHash, res.URL, res.FirstSeen, res.LastSeen, res.SeenCount,
		res.QualityScore, res.ExtractionOK, res.RetryCount, refreshAfter)
	if err != nil {
		return unavailable("upsert tracked", err)
	}
	return nil
}
