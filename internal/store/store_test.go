package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func candidate(url string) pipeline.CandidateURL {
	normalized, _ := pipeline.NormalizeURL(url)
	return pipeline.CandidateURL{
		RawURL:       url,
		URL:          normalized,
		URLHash:      pipeline.HashURL(normalized),
		SourcePage:   "https://example.com/?page=1",
		DiscoveredAt: time.Now().UTC(),
		Priority:     pipeline.PriorityNormal,
		Metadata:     pipeline.ListingMetadata{Title: "cottage"},
		Status:       pipeline.StatusPending,
	}
}

func TestInsertDiscovered_DuplicateRefreshesWithoutSecondRow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	cand := candidate("https://example.com/v/1")

	created, err := s.InsertDiscovered(ctx, cand)
	require.NoError(t, err)
	require.True(t, created)

	again := cand
	again.Metadata.Title = "cottage, reduced"
	created, err = s.InsertDiscovered(ctx, again)
	require.NoError(t, err)
	require.False(t, created)

	pending, err := s.LoadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "cottage, reduced", pending[0].Metadata.Title)
}

func TestMarkStatus_GuardEnforcesSingleWinner(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	cand := candidate("https://example.com/v/2")
	_, err := s.InsertDiscovered(ctx, cand)
	require.NoError(t, err)

	won, err := s.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	require.NoError(t, err)
	require.True(t, won)

	// second claim on the same row loses
	won, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	require.NoError(t, err)
	require.False(t, won)

	won, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusInFlight, pipeline.StatusDone)
	require.NoError(t, err)
	require.True(t, won)
}

func TestResetInFlight_ReturnsStrandedRows(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	cand := candidate("https://example.com/v/3")
	_, err := s.InsertDiscovered(ctx, cand)
	require.NoError(t, err)
	_, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	require.NoError(t, err)

	n, err := s.ResetInFlight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	pending, err := s.LoadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestPruneDiscovered_RetiresAndRevives(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	cand := candidate("https://example.com/v/4")
	cand.DiscoveredAt = time.Now().UTC().Add(-100 * 24 * time.Hour)
	_, err := s.InsertDiscovered(ctx, cand)
	require.NoError(t, err)
	_, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	require.NoError(t, err)
	_, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusInFlight, pipeline.StatusDone)
	require.NoError(t, err)

	n, err := s.PruneDiscovered(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// rediscovery of a retired row revives it as pending
	created, err := s.InsertDiscovered(ctx, candidate("https://example.com/v/4"))
	require.NoError(t, err)
	require.True(t, created)

	counts, err := s.CountsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[pipeline.StatusPending])
}

func TestTracked_UpsertRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTracked(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	refresh := now.Add(14 * 24 * time.Hour)
	res := pipeline.TrackedResource{
		URLHash:           "abc",
		URL:               "https://example.com/v/5",
		FirstSeen:         now,
		LastSeen:          now,
		SeenCount:         1,
		QualityScore:      0.85,
		ExtractionOK:      true,
		ForceRefreshAfter: &refresh,
	}
	require.NoError(t, s.UpsertTracked(ctx, res))

	res.SeenCount = 2
	res.QualityScore = 0.9
	require.NoError(t, s.UpsertTracked(ctx, res))

	got, err := s.GetTracked(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 2, got.SeenCount)
	require.InDelta(t, 0.9, got.QualityScore, 1e-9)
	require.True(t, got.ExtractionOK)
	require.NotNil(t, got.ForceRefreshAfter)
	require.True(t, refresh.Equal(*got.ForceRefreshAfter))
}

func TestSessions_CreateCloseLatest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sess := pipeline.ScrapeSession{ID: "run-1", StartedAt: start, ConfigJSON: "{}"}
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.LatestClosedSession(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	end := start.Add(30 * time.Minute)
	sess.FinishedAt = &end
	sess.Requested = 100
	sess.NewCount = 80
	sess.DupCount = 15
	sess.FailCount = 5
	require.NoError(t, s.CloseSession(ctx, sess))

	latest, err := s.LatestClosedSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", latest.ID)
	require.Equal(t, 80, latest.NewCount)
	require.NotNil(t, latest.FinishedAt)

	got, err := s.GetSession(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 100, got.Requested)

	list, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestClosedStore_ErrorsCarryUnavailable(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	cand := candidate("https://example.com/v/9")
	_, err = s.InsertDiscovered(ctx, cand)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	require.ErrorIs(t, err, ErrUnavailable)

	err = s.UpsertTracked(ctx, pipeline.TrackedResource{
		URLHash:   cand.URLHash,
		URL:       cand.URL,
		FirstSeen: time.Now().UTC(),
		LastSeen:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = s.LoadPending(ctx, 0)
	require.ErrorIs(t, err, ErrUnavailable)
}
