// Package frontier holds the discovered-but-not-yet-processed URL set,
// ordered by priority then arrival. The in-memory queue is a rebuildable
// view over the persisted store.
package frontier

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/pipeline"
)

// ErrFull is returned by Add when the frontier reached capacity. The caller
// is expected to slow discovery down rather than block.
var ErrFull = errors.New("frontier: at capacity")

// Store is the slice of persistence the frontier depends on.
type Store interface {
	InsertDiscovered(ctx context.Context, cand pipeline.CandidateURL) (bool, error)
	LoadPending(ctx context.Context, limit int) ([]pipeline.CandidateURL, error)
	ResetInFlight(ctx context.Context) (int64, error)
}

// Stats reports frontier counters.
type Stats struct {
	Depth      int
	ByPriority map[pipeline.Priority]int
	Accepted   int64
	Duplicates int64
	Rejected   int64
}

// Frontier is a bounded priority queue with hash-based dedup. One mutex
// guards both the heap and the in-memory dedup set; a condition variable
// wakes blocked Next callers.
type Frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    candidateHeap
	queued  map[string]struct{}
	seq     uint64
	maxSize int
	closed  bool

	accepted   int64
	duplicates int64
	rejected   int64

	store  Store
	clock  pipeline.Clock
	logger *zap.Logger
}

// New builds an empty frontier capped at maxSize entries.
func New(store Store, maxSize int, clock pipeline.Clock, logger *zap.Logger) *Frontier {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Frontier{
		queued:  make(map[string]struct{}),
		maxSize: maxSize,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Reload returns stranded in-flight rows to pending and repopulates the
// queue from the store. Call once at startup, before workers run.
func (f *Frontier) Reload(ctx context.Context) (int, error) {
	reset, err := f.store.ResetInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("frontier reload: %w", err)
	}
	if reset > 0 {
		f.logger.Info("returned stranded urls to pending", zap.Int64("count", reset))
	}
	pending, err := f.store.LoadPending(ctx, f.maxSize)
	if err != nil {
		return 0, fmt.Errorf("frontier reload: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	loaded := 0
	for _, cand := range pending {
		if _, dup := f.queued[cand.URLHash]; dup {
			continue
		}
		if len(f.heap) >= f.maxSize {
			break
		}
		f.pushLocked(cand)
		loaded++
	}
	if loaded > 0 {
		f.cond.Broadcast()
	}
	return loaded, nil
}

// Add normalizes, hashes, and enqueues a candidate URL. A URL already known
// in any non-retired state is a counted no-op returning accepted=false.
// Returns ErrFull when the queue is at capacity.
func (f *Frontier) Add(ctx context.Context, cand pipeline.CandidateURL) (bool, error) {
	if cand.URL == "" {
		normalized, err := pipeline.NormalizeURL(cand.RawURL)
		if err != nil {
			f.mu.Lock()
			f.rejected++
			f.mu.Unlock()
			return false, fmt.Errorf("frontier add: %w", err)
		}
		cand.URL = normalized
	}
	if cand.URLHash == "" {
		cand.URLHash = pipeline.HashURL(cand.URL)
	}
	if cand.DiscoveredAt.IsZero() {
		cand.DiscoveredAt = f.clock.Now()
	}
	cand.Status = pipeline.StatusPending

	// Duplicate wins over capacity: re-adding a queued URL is always the
	// counted no-op, even when the frontier is full.
	f.mu.Lock()
	if _, dup := f.queued[cand.URLHash]; dup {
		f.duplicates++
		f.mu.Unlock()
		return false, nil
	}
	if len(f.heap) >= f.maxSize {
		f.rejected++
		f.mu.Unlock()
		return false, ErrFull
	}
	f.mu.Unlock()

	// Store decides duplicates across restarts; a live duplicate refreshes
	// metadata without creating a row.
	created, err := f.store.InsertDiscovered(ctx, cand)
	if err != nil {
		return false, fmt.Errorf("frontier add: %w", err)
	}
	if !created {
		f.mu.Lock()
		f.duplicates++
		f.mu.Unlock()
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heap) >= f.maxSize {
		f.rejected++
		return false, ErrFull
	}
	f.pushLocked(cand)
	f.accepted++
	f.cond.Signal()
	return true, nil
}

// Next blocks until a candidate is available or the timeout elapses. The
// second return value is false on timeout or close; this is the workers'
// suspension point, so the wait must stay bounded.
func (f *Frontier) Next(timeout time.Duration) (pipeline.CandidateURL, bool) {
	deadline := time.Now().Add(timeout)

	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.heap) == 0 && !f.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pipeline.CandidateURL{}, false
		}
		f.waitLocked(remaining)
	}
	if len(f.heap) == 0 {
		return pipeline.CandidateURL{}, false
	}
	item := heap.Pop(&f.heap).(*queuedCandidate)
	delete(f.queued, item.cand.URLHash)
	return item.cand, true
}

// Close wakes all blocked Next callers; they drain the remaining queue and
// then observe empty.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Stats returns a snapshot of queue depth and counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPriority := make(map[pipeline.Priority]int, 3)
	for _, item := range f.heap {
		byPriority[item.cand.Priority]++
	}
	return Stats{
		Depth:      len(f.heap),
		ByPriority: byPriority,
		Accepted:   f.accepted,
		Duplicates: f.duplicates,
		Rejected:   f.rejected,
	}
}

// Depth returns the current queue length.
func (f *Frontier) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heap)
}

func (f *Frontier) pushLocked(cand pipeline.CandidateURL) {
	f.seq++
	heap.Push(&f.heap, &queuedCandidate{cand: cand, seq: f.seq})
	f.queued[cand.URLHash] = struct{}{}
}

// waitLocked releases the lock while waiting for a signal or the deadline.
// A timer-driven Broadcast bounds the sleep so Next honors its timeout.
func (f *Frontier) waitLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cond.Broadcast()
	})
	defer timer.Stop()
	f.cond.Wait()
}

// queuedCandidate orders by priority tier first, then strict FIFO within a
// tier via the monotonic sequence number.
type queuedCandidate struct {
	cand pipeline.CandidateURL
	seq  uint64
}

type candidateHeap []*queuedCandidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].cand.Priority != h[j].cand.Priority {
		return h[i].cand.Priority > h[j].cand.Priority
	}
	return h[i].seq < h[j].seq
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(*queuedCandidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
