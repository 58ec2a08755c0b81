package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketscout/crawler/internal/pipeline"
)

func TestHTTPTransportFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{UserAgent: "test-bot"}, nil, nil)
	page, err := tr.Fetch(context.Background(), srv.URL+"/listing/1", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "hello")
	require.Equal(t, srv.URL+"/listing/1", page.URL)
}

func TestHTTPTransportStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{}, nil, nil)
	_, err := tr.Fetch(context.Background(), srv.URL, 5*time.Second)
	require.Error(t, err)

	var statusErr *pipeline.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.False(t, statusErr.Transient())
}

func TestHTTPTransportRespectsRobots(t *testing.T) {
	t.Parallel()

	var robotsHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{UserAgent: "test-bot", RespectRobots: true}, nil, nil)

	_, err := tr.Fetch(context.Background(), srv.URL+"/private/listing", 5*time.Second)
	require.ErrorIs(t, err, ErrRobotsDisallowed)

	page, err := tr.Fetch(context.Background(), srv.URL+"/public/listing", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)

	// Both fetches hit the same host, so the policy is fetched once.
	require.Equal(t, int64(1), robotsHits.Load())
}

func TestHTTPTransportCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(Options{}, nil, nil)
	_, err := tr.Fetch(ctx, srv.URL, 5*time.Second)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestDomainLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := NewDomainLimiter(0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/x"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestDomainLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewDomainLimiter(0.001)
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example/b")
	require.Error(t, err)
}
