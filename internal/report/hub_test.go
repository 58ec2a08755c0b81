package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func event(kind Kind) Event {
	return Event{
		SessionID: "run-1",
		TS:        time.Now().UTC(),
		Kind:      kind,
		URL:       "https://example.com/v/1",
	}
}

func TestHub_AggregatesConcurrentEmissionsExactly(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	const perKind = 100
	var wg sync.WaitGroup
	for _, kind := range []Kind{KindFetched, KindFailed, KindSkipped, KindRetried} {
		wg.Add(1)
		go func(k Kind) {
			defer wg.Done()
			for i := 0; i < perKind; i++ {
				hub.Emit(event(k))
			}
		}(kind)
	}
	wg.Wait()
	require.NoError(t, hub.Close(context.Background()))

	summary := hub.Summary()
	require.EqualValues(t, perKind, summary.Fetched)
	require.EqualValues(t, perKind, summary.Failed)
	require.EqualValues(t, perKind, summary.Skipped)
	require.EqualValues(t, perKind, summary.Retries)
	require.EqualValues(t, 3*perKind, summary.Completed())
	require.Equal(t, 4*perKind, sink.count())
	require.True(t, sink.closed)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Kind: KindFetched}) // no session id, no timestamp
	hub.Emit(event("BANANAS"))
	require.NoError(t, hub.Close(context.Background()))

	require.Zero(t, sink.count())
	require.Zero(t, hub.Summary().Completed())
}

func TestHub_EmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(event(KindFetched))
	require.Zero(t, hub.Summary().Fetched)
}
