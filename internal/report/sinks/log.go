// Package sinks provides Sink implementations for the report hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/report"
)

// LogSink emits structured logs for outcome streams. Useful in development
// and for audit trails where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []report.Event) error {
	for _, evt := range batch {
		s.logger.Debug("pipeline outcome",
			zap.String("session_id", evt.SessionID),
			zap.String("kind", string(evt.Kind)),
			zap.String("url", evt.URL),
			zap.Float64("quality", evt.Quality),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
