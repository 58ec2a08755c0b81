package sinks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/report"
)

// Checkpointer persists aggregate run progress without closing the session.
type Checkpointer interface {
	CheckpointSession(ctx context.Context, sessionID string, requested, newCount, dupCount, failCount int) error
}

// StoreSink checkpoints run progress every checkpointEvery terminal outcomes,
// so a crashed run still reports partial results from the store.
type StoreSink struct {
	store           Checkpointer
	checkpointEvery int
	logger          *zap.Logger

	mu            sync.Mutex
	sessionID     string
	completed     int
	sinceLast     int
	fetched       int
	skipped       int
	failed        int
	frontierDepth int
}

// NewStoreSink builds a sink checkpointing every checkpointEvery completions.
func NewStoreSink(store Checkpointer, checkpointEvery int, logger *zap.Logger) *StoreSink {
	if checkpointEvery <= 0 {
		checkpointEvery = 25
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, checkpointEvery: checkpointEvery, logger: logger}
}

// Consume folds the batch into running totals and checkpoints when due.
func (s *StoreSink) Consume(ctx context.Context, batch []report.Event) error {
	s.mu.Lock()
	for _, evt := range batch {
		s.sessionID = evt.SessionID
		if evt.FrontierDepth > 0 {
			s.frontierDepth = evt.FrontierDepth
		}
		switch evt.Kind {
		case report.KindFetched:
			s.fetched++
		case report.KindSkipped:
			s.skipped++
		case report.KindFailed:
			s.failed++
		default:
			continue
		}
		s.completed++
		s.sinceLast++
	}
	due := s.sinceLast >= s.checkpointEvery
	if due {
		s.sinceLast = 0
	}
	s.mu.Unlock()

	if !due {
		return nil
	}
	return s.checkpoint(ctx)
}

// Close writes a final checkpoint for whatever completed.
func (s *StoreSink) Close(ctx context.Context) error {
	s.mu.Lock()
	pending := s.completed > 0
	s.mu.Unlock()
	if !pending {
		return nil
	}
	return s.checkpoint(ctx)
}

func (s *StoreSink) checkpoint(ctx context.Context) error {
	s.mu.Lock()
	sessionID := s.sessionID
	completed, fetched, skipped, failed := s.completed, s.fetched, s.skipped, s.failed
	depth := s.frontierDepth
	s.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	err := s.store.CheckpointSession(ctx, sessionID, completed, fetched, skipped, failed)
	if err != nil {
		return fmt.Errorf("checkpoint session: %w", err)
	}
	s.logger.Info("run checkpoint persisted",
		zap.String("session_id", sessionID),
		zap.Int("completed", completed),
		zap.Int("fetched", fetched),
		zap.Int("failed", failed),
		zap.Int("frontier_depth", depth),
	)
	return nil
}
