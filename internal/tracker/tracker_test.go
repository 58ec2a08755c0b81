package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketscout/crawler/internal/cache"
	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	resources map[string]pipeline.TrackedResource
	gets      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{resources: make(map[string]pipeline.TrackedResource)}
}

func (s *fakeStore) GetTracked(_ context.Context, urlHash string) (pipeline.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	res, ok := s.resources[urlHash]
	if !ok {
		return pipeline.TrackedResource{}, store.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) UpsertTracked(_ context.Context, res pipeline.TrackedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.URLHash] = res
	return nil
}

func (s *fakeStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seed(s *fakeStore, rawURL string, quality float64, ok bool) string {
	normalized, _ := pipeline.NormalizeURL(rawURL)
	hash := pipeline.HashURL(normalized)
	s.resources[hash] = pipeline.TrackedResource{
		URLHash:      hash,
		URL:          normalized,
		QualityScore: quality,
		ExtractionOK: ok,
		SeenCount:    1,
	}
	return hash
}

func TestShouldFetch_FreshnessPolicy(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	seed(st, "https://example.com/v/1", 0.9, true)
	tr := New(st, nil, nil, Config{QualityThreshold: 0.7}, nil)
	ctx := context.Background()

	d, err := tr.ShouldFetch(ctx, "https://example.com/v/1", Options{})
	require.NoError(t, err)
	require.False(t, d.Fetch, "quality 0.9 beats threshold 0.7")

	d, err = tr.ShouldFetch(ctx, "https://example.com/v/1", Options{QualityThreshold: 0.95})
	require.NoError(t, err)
	require.True(t, d.Fetch, "raising the threshold forces a refetch")

	d, err = tr.ShouldFetch(ctx, "https://example.com/v/1", Options{ForceRefresh: true})
	require.NoError(t, err)
	require.True(t, d.Fetch)
	require.Equal(t, "force refresh requested", d.Reason)
}

func TestShouldFetch_UnseenAndFailed(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	seed(st, "https://example.com/v/broken", 0.0, false)
	tr := New(st, nil, nil, Config{}, nil)
	ctx := context.Background()

	d, err := tr.ShouldFetch(ctx, "https://example.com/v/unknown", Options{})
	require.NoError(t, err)
	require.True(t, d.Fetch)
	require.Equal(t, "unseen url", d.Reason)

	d, err = tr.ShouldFetch(ctx, "https://example.com/v/broken", Options{})
	require.NoError(t, err)
	require.True(t, d.Fetch)
	require.Equal(t, "last attempt failed", d.Reason)
}

func TestShouldFetch_RefreshWindowElapsed(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	hash := seed(st, "https://example.com/v/stale", 0.95, true)
	past := time.Now().UTC().Add(-time.Hour)
	res := st.resources[hash]
	res.ForceRefreshAfter = &past
	st.resources[hash] = res

	tr := New(st, nil, nil, Config{QualityThreshold: 0.7}, nil)
	d, err := tr.ShouldFetch(context.Background(), "https://example.com/v/stale", Options{})
	require.NoError(t, err)
	require.True(t, d.Fetch)
	require.Equal(t, "refresh window elapsed", d.Reason)
}

func TestRecordOutcome_SuccessThenFailure(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr := New(st, nil, fixedClock{now}, Config{
		QualityThreshold:   0.7,
		ForceRescrapeAfter: 14 * 24 * time.Hour,
	}, nil)
	ctx := context.Background()
	url := "https://example.com/v/2"

	quality, err := tr.RecordOutcome(ctx, url, pipeline.Record{
		"title": "cottage", "price": 100.0,
	}, true, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.45, quality, 1e-9)

	normalized, _ := pipeline.NormalizeURL(url)
	res := st.resources[pipeline.HashURL(normalized)]
	require.Equal(t, 1, res.SeenCount)
	require.True(t, res.ExtractionOK)
	require.NotNil(t, res.ForceRefreshAfter)
	require.True(t, res.ForceRefreshAfter.Equal(now.Add(14*24*time.Hour)))

	quality, err = tr.RecordOutcome(ctx, url, nil, false, context.DeadlineExceeded)
	require.NoError(t, err)
	require.Zero(t, quality)

	res = st.resources[pipeline.HashURL(normalized)]
	require.Equal(t, 2, res.SeenCount)
	require.False(t, res.ExtractionOK)
	require.Equal(t, 1, res.RetryCount)
	require.True(t, res.FirstSeen.Equal(now), "first seen never moves")
}

func TestTracker_CacheAvoidsStoreRoundTripsAndInvalidates(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	seed(st, "https://example.com/v/3", 0.9, true)
	c := cache.New(1<<20, time.Minute, nil)
	tr := New(st, c, nil, Config{QualityThreshold: 0.7}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := tr.ShouldFetch(ctx, "https://example.com/v/3", Options{})
		require.NoError(t, err)
	}
	require.Equal(t, 1, st.getCount(), "repeat lookups served from cache")

	_, err := tr.RecordOutcome(ctx, "https://example.com/v/3", pipeline.Record{"title": "x"}, true, nil)
	require.NoError(t, err)

	_, err = tr.ShouldFetch(ctx, "https://example.com/v/3", Options{})
	require.NoError(t, err)
	require.Greater(t, st.getCount(), 2, "RecordOutcome invalidates the cached entry")
}

func TestTracker_CacheLookupsAreCounted(t *testing.T) {
	metrics.Init()

	st := newFakeStore()
	seed(st, "https://example.com/v/4", 0.9, true)
	c := cache.New(1<<20, time.Minute, nil)
	tr := New(st, c, nil, Config{QualityThreshold: 0.7}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tr.ShouldFetch(ctx, "https://example.com/v/4", Options{})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `crawler_cache_ops_total{op="hit"}`)
	require.Contains(t, body, `crawler_cache_ops_total{op="miss"}`)
}

func TestRecordOutcome_ConcurrentDistinctURLs(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	tr := New(st, nil, nil, Config{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := "https://example.com/v/concurrent-" + string(rune('a'+i%26))
			_, _ = tr.RecordOutcome(ctx, url, pipeline.Record{"title": "t"}, true, nil)
		}(i)
	}
	wg.Wait()

	require.Len(t, st.resources, 26)
	for _, res := range st.resources {
		require.GreaterOrEqual(t, res.SeenCount, 1)
	}
}
