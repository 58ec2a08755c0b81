package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/marketscout/crawler/internal/pipeline"
)

type sessionRow struct {
	SessionID      string       `db:"session_id"`
	StartTime      time.Time    `db:"start_time"`
	EndTime        sql.NullTime `db:"end_time"`
	Requested      int          `db:"requested"`
	NewCount       int          `db:"new_count"`
	DuplicateCount int          `db:"duplicate_count"`
	FailedCount    int          `db:"failed_count"`
	ConfigJSON     string       `db:"config_json"`
}

func (r sessionRow) session() pipeline.ScrapeSession {
	s := pipeline.ScrapeSession{
		ID:         r.SessionID,
		StartedAt:  r.StartTime,
		Requested:  r.Requested,
		NewCount:   r.NewCount,
		DupCount:   r.DuplicateCount,
		FailCount:  r.FailedCount,
		ConfigJSON: r.ConfigJSON,
	}
	if r.EndTime.Valid {
		t := r.EndTime.Time
		s.FinishedAt = &t
	}
	return s
}

// CreateSession opens a scrape session record.
func (s *Store) CreateSession(ctx context.Context, sess pipeline.ScrapeSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_sessions (session_id, start_time, config_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING`,
		sess.ID, sess.StartedAt, sess.ConfigJSON)
	if err != nil {
		return unavailable("create session", err)
	}
	return nil
}

// CloseSession stamps the end time and final counters on a session.
func (s *Store) CloseSession(ctx context.Context, sess pipeline.ScrapeSession) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_sessions
		SET end_time = $1, requested = $2, new_count = $3,
			duplicate_count = $4, failed_count = $5
		WHERE session_id = $6`,
		sess.FinishedAt, sess.Requested, sess.NewCount,
		sess.DupCount, sess.FailCount, sess.ID)
	if err != nil {
		return unavailable("close session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckpointSession persists aggregate run progress without closing the
// session, so a crashed run still reports partial results.
func (s *Store) CheckpointSession(ctx context.Context, sessionID string, requested, newCount, dupCount, failCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_sessions
		SET requested = $1, new_count = $2, duplicate_count = $3, failed_count = $4
		WHERE session_id = $5`,
		requested, newCount, dupCount, failCount, sessionID)
	if err != nil {
		return unavailable("checkpoint session", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (pipeline.ScrapeSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT session_id, start_time, end_time, requested, new_count,
			duplicate_count, failed_count, config_json
		FROM scrape_sessions
		WHERE session_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.ScrapeSession{}, ErrNotFound
	}
	if err != nil {
		return pipeline.ScrapeSession{}, unavailable("get session", err)
	}
	return row.session(), nil
}

// LatestClosedSession returns the most recently finished session, used as the
// incremental validator's "last scrape" baseline. ErrNotFound when no run has
// completed yet.
func (s *Store) LatestClosedSession(ctx context.Context) (pipeline.ScrapeSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT session_id, start_time, end_time, requested, new_count,
			duplicate_count, failed_count, config_json
		FROM scrape_sessions
		WHERE end_time IS NOT NULL
		ORDER BY end_time DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.ScrapeSession{}, ErrNotFound
	}
	if err != nil {
		return pipeline.ScrapeSession{}, unavailable("latest session", err)
	}
	return row.session(), nil
}

// ListSessions returns recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]pipeline.ScrapeSession, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, start_time, end_time, requested, new_count,
			duplicate_count, failed_count, config_json
		FROM scrape_sessions
		ORDER BY start_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	out := make([]pipeline.ScrapeSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}
