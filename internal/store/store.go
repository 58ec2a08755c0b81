// Package store provides the embedded SQLite-backed persistence layer. It is
// the single source of truth for discovered URLs, tracked resources, and
// scrape sessions; in-memory views (the frontier) are rebuilt from it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/pipeline"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrUnavailable indicates the database cannot be opened or reached. The
// store is the correctness anchor, so callers treat this as fatal.
var ErrUnavailable = errors.New("store: unavailable")

// unavailable tags a database-level failure with ErrUnavailable so callers
// can tell store loss apart from ordinary domain errors.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}

const schema = `
CREATE TABLE IF NOT EXISTS discovered_urls (
	url             TEXT NOT NULL,
	normalized_url  TEXT NOT NULL,
	url_hash        TEXT NOT NULL UNIQUE,
	source_page     TEXT NOT NULL DEFAULT '',
	discovery_time  TIMESTAMP NOT NULL,
	priority        TEXT NOT NULL DEFAULT 'normal',
	metadata_json   TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_discovered_status ON discovered_urls (status);

CREATE TABLE IF NOT EXISTS tracked_resources (
	url_hash            TEXT NOT NULL UNIQUE,
	url                 TEXT NOT NULL,
	first_seen          TIMESTAMP NOT NULL,
	last_seen           TIMESTAMP NOT NULL,
	seen_count          INTEGER NOT NULL DEFAULT 0,
	quality_score       REAL NOT NULL DEFAULT 0,
	extraction_success  INTEGER NOT NULL DEFAULT 0,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	force_refresh_after TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scrape_sessions (
	session_id      TEXT NOT NULL UNIQUE,
	start_time      TIMESTAMP NOT NULL,
	end_time        TIMESTAMP,
	requested       INTEGER NOT NULL DEFAULT 0,
	new_count       INTEGER NOT NULL DEFAULT 0,
	duplicate_count INTEGER NOT NULL DEFAULT 0,
	failed_count    INTEGER NOT NULL DEFAULT 0,
	config_json     TEXT NOT NULL DEFAULT '{}'
);
`

// Store wraps the embedded database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral store in tests.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_loc=UTC", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, unavailable("open store "+path, err)
	}
	// SQLite permits a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, unavailable("ping store "+path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, unavailable("apply schema", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type discoveredRow struct {
	URL           string    `db:"url"`
	NormalizedURL string    `db:"normalized_url"`
	URLHash       string    `db:"url_hash"`
	SourcePage    string    `db:"source_page"`
	DiscoveryTime time.Time `db:"discovery_time"`
	Priority      string    `db:"priority"`
	MetadataJSON  string    `db:"metadata_json"`
	Status        string    `db:"status"`
}

func (r discoveredRow) candidate() pipeline.CandidateURL {
	var meta pipeline.ListingMetadata
	_ = json.Unmarshal([]byte(r.MetadataJSON), &meta)
	return pipeline.CandidateURL{
		RawURL:       r.URL,
		URL:          r.NormalizedURL,
		URLHash:      r.URLHash,
		SourcePage:   r.SourcePage,
		DiscoveredAt: r.DiscoveryTime,
		Priority:     pipeline.ParsePriority(r.Priority),
		Metadata:     meta,
		Status:       pipeline.Status(r.Status),
	}
}

// InsertDiscovered records a candidate URL. It reports accepted=true when a
// new row was created or a retired row was revived; a live duplicate only has
// its metadata and source page refreshed, and reports accepted=false.
func (s *Store) InsertDiscovered(ctx context.Context, cand pipeline.CandidateURL) (bool, error) {
	metaJSON, err := json.Marshal(cand.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, unavailable("begin discovered tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.GetContext(ctx, &status,
		`SELECT status FROM discovered_urls WHERE url_hash = $1`, cand.URLHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO discovered_urls
				(url, normalized_url, url_hash, source_page, discovery_time, priority, metadata_json, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			cand.RawURL, cand.URL, cand.URLHash, cand.SourcePage,
			cand.DiscoveredAt, cand.Priority.String(), string(metaJSON),
			string(pipeline.StatusPending),
		)
		if err != nil {
			return false, unavailable("insert discovered", err)
		}
		if err := tx.Commit(); err != nil {
			return false, unavailable("commit discovered", err)
		}
		return true, nil

	case err != nil:
		return false, unavailable("lookup discovered", err)
	}

	revived := pipeline.Status(status) == pipeline.StatusRetired
	query := `
		UPDATE discovered_urls
		SET source_page = $1, metadata_json = $2
		WHERE url_hash = $3`
	if revived {
		query = `
			UPDATE discovered_urls
			SET source_page = $1, metadata_json = $2,
				status = 'pending', discovery_time = $3
			WHERE url_hash = $4`
	}
	args := []any{cand.SourcePage, string(metaJSON)}
	if revived {
		args = append(args, cand.DiscoveredAt)
	}
	args = append(args, cand.URLHash)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, unavailable("refresh discovered", err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("commit discovered", err)
	}
	return revived, nil
}

// MarkStatus transitions a candidate URL from one status to another. The
// from-status guard enforces exactly-once processing: only one worker can win
// the pending -> in_flight transition.
func (s *Store) MarkStatus(ctx context.Context, urlHash string, from, to pipeline.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discovered_urls SET status = $1
		WHERE url_hash = $2 AND status = $3`,
		string(to), urlHash, string(from))
	if err != nil {
		return false, unavailable("mark status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("mark status rows", err)
	}
	return n > 0, nil
}

// ResetInFlight returns stranded in-flight rows to pending. Called on
// startup so a crashed run's work is not lost.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovered_urls SET status = 'pending' WHERE status = 'in_flight'`)
	if err != nil {
		return 0, unavailable("reset in-flight", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LoadPending returns pending candidates in discovery order, for rebuilding
// the frontier after a restart. limit <= 0 means no limit.
func (s *Store) LoadPending(ctx context.Context, limit int) ([]pipeline.CandidateURL, error) {
	query := `
		SELECT url, normalized_url, url_hash, source_page, discovery_time,
			priority, metadata_json, status
		FROM discovered_urls
		WHERE status = 'pending'
		ORDER BY discovery_time ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var rows []discoveredRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("load pending", err)
	}
	out := make([]pipeline.CandidateURL, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.candidate())
	}
	return out, nil
}

// CountsByStatus returns the number of discovered URLs per status.
func (s *Store) CountsByStatus(ctx context.Context) (map[pipeline.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM discovered_urls GROUP BY status`)
	if err != nil {
		return nil, unavailable("counts by status", err)
	}
	counts := make(map[pipeline.Status]int, len(rows))
	for _, r := range rows {
		counts[pipeline.Status(r.Status)] = r.N
	}
	return counts, nil
}

// PruneDiscovered soft-retires terminal rows older than cutoff. Rows are
// never physically deleted.
func (s *Store) PruneDiscovered(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discovered_urls SET status = 'retired'
		WHERE status IN ('done', 'failed') AND discovery_time < $1`,
		cutoff)
	if err != nil {
		return 0, unavailable("prune discovered", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
