// Package report defines the outcome events emitted by pipeline workers and
// the hub that aggregates them. Workers never touch shared counters; they
// emit events and a single goroutine owns the summary.
package report

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of outcome represented by an Event.
type Kind string

// Supported outcome kinds.
const (
	KindFetched    Kind = "FETCHED"
	KindSkipped    Kind = "SKIPPED"
	KindFailed     Kind = "FAILED"
	KindRetried    Kind = "RETRIED"
	KindDiscovered Kind = "DISCOVERED"
	KindDuplicate  Kind = "DUPLICATE"
)

// Event captures a single pipeline outcome.
type Event struct {
	// SessionID scopes the event to one scrape run.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which outcome occurred.
	Kind Kind
	// URL is the normalized resource URL, where one applies.
	URL string
	// Quality is the recorded quality score for FETCHED events.
	Quality float64
	// Attempts counts fetch attempts consumed by the task.
	Attempts int
	// FrontierDepth samples the queue depth at emission time.
	FrontierDepth int
	// Dur captures task latency.
	Dur time.Duration
	// Note attaches low-volume context such as skip reasons or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindFetched, KindSkipped, KindFailed, KindRetried, KindDiscovered, KindDuplicate:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Summary is the aggregate view owned by the hub goroutine.
type Summary struct {
	Fetched    int64
	Skipped    int64
	Failed     int64
	Retries    int64
	Discovered int64
	Duplicates int64
}

// Completed returns the number of terminal task outcomes.
func (s Summary) Completed() int64 {
	return s.Fetched + s.Skipped + s.Failed
}
