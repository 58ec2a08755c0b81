package validator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/store"
)

type fakeTracked struct {
	resources map[string]pipeline.TrackedResource
}

func (f *fakeTracked) GetTracked(_ context.Context, urlHash string) (pipeline.TrackedResource, error) {
	res, ok := f.resources[urlHash]
	if !ok {
		return pipeline.TrackedResource{}, store.ErrNotFound
	}
	return res, nil
}

func track(urls map[string]time.Time) *fakeTracked {
	f := &fakeTracked{resources: make(map[string]pipeline.TrackedResource)}
	for raw, lastSeen := range urls {
		normalized, _ := pipeline.NormalizeURL(raw)
		hash := pipeline.HashURL(normalized)
		f.resources[hash] = pipeline.TrackedResource{URLHash: hash, LastSeen: lastSeen}
	}
	return f
}

func TestValidate_MostlyNewBatch(t *testing.T) {
	t.Parallel()

	lastScrape := time.Now().Add(-24 * time.Hour)
	seen := map[string]time.Time{}
	var urls []string
	for i := 0; i < 100; i++ {
		u := fmt.Sprintf("https://example.com/v/%d", i)
		urls = append(urls, u)
		if i >= 80 {
			seen[u] = lastScrape.Add(-time.Hour)
		}
	}

	v := New(track(seen), nil)
	res, err := v.Validate(context.Background(), urls, lastScrape)
	require.NoError(t, err)
	require.Equal(t, 80, res.NewCount)
	require.Equal(t, 20, res.SeenBeforeCount)
	require.GreaterOrEqual(t, res.Confidence, 0.8)
	require.Equal(t, ContinueMostlyNew, res.Recommendation)
}

func TestValidate_SeenAfterLastScrapeCountsAsFresh(t *testing.T) {
	t.Parallel()

	lastScrape := time.Now().Add(-24 * time.Hour)
	urls := []string{
		"https://example.com/v/1",
		"https://example.com/v/2",
	}
	seen := map[string]time.Time{
		urls[0]: lastScrape.Add(time.Hour),  // seen again since baseline
		urls[1]: lastScrape.Add(-time.Hour), // stale history
	}

	v := New(track(seen), nil)
	res, err := v.Validate(context.Background(), urls, lastScrape)
	require.NoError(t, err)
	require.Equal(t, 1, res.SeenAfterLastScrape)
	require.Equal(t, 1, res.SeenBeforeCount)
	require.InDelta(t, 0.5, res.Confidence, 1e-9)
	require.Equal(t, ConsiderStopping, res.Recommendation)
}

func TestValidate_OldTerritory(t *testing.T) {
	t.Parallel()

	lastScrape := time.Now().Add(-24 * time.Hour)
	seen := map[string]time.Time{}
	var urls []string
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("https://example.com/v/old-%d", i)
		urls = append(urls, u)
		seen[u] = lastScrape.Add(-48 * time.Hour)
	}

	v := New(track(seen), nil)
	res, err := v.Validate(context.Background(), urls, lastScrape)
	require.NoError(t, err)
	require.Zero(t, res.NewCount)
	require.Equal(t, StopOldTerritory, res.Recommendation)
}

func TestValidate_EmptyBatchIsVacuouslyNew(t *testing.T) {
	t.Parallel()

	v := New(track(nil), nil)
	res, err := v.Validate(context.Background(), nil, time.Time{})
	require.NoError(t, err)
	require.Equal(t, ContinueMostlyNew, res.Recommendation)
}
