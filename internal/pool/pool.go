// Package pool runs the fetch-extract workers. Each worker owns its own
// transport, pulls candidates from the frontier, consults the tracker, and
// records every outcome; a pool-wide circuit breaker halts the run after too
// many consecutive failures.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/report"
	"github.com/marketscout/crawler/internal/tracker"
)

// ErrCircuitOpen reports a deliberate halt after sustained failures. The run
// ends cleanly with partial results; it is not a crash.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Frontier is the work source for the pool.
type Frontier interface {
	Next(timeout time.Duration) (pipeline.CandidateURL, bool)
	Depth() int
}

// Tracker decides skips and records outcomes.
type Tracker interface {
	ShouldFetch(ctx context.Context, rawURL string, opts tracker.Options) (tracker.Decision, error)
	RecordOutcome(ctx context.Context, rawURL string, record pipeline.Record, success bool, fetchErr error) (float64, error)
}

// StatusStore moves candidates through their lifecycle states.
type StatusStore interface {
	MarkStatus(ctx context.Context, urlHash string, from, to pipeline.Status) (bool, error)
}

// Options wires a Pool.
type Options struct {
	Frontier  Frontier
	Tracker   Tracker
	Store     StatusStore
	Factory   pipeline.TransportFactory
	Extractor pipeline.Extractor
	Retry     pipeline.RetryPolicy
	Emitter   report.Emitter
	Clock     pipeline.Clock
	Logger    *zap.Logger

	Workers          int
	FetchTimeout     time.Duration
	IdleTimeout      time.Duration
	BreakerThreshold int
	MaxURLs          int
	ForceRefresh     bool
	DelayMin         time.Duration
	DelayMax         time.Duration
}

// Pool is the fetch-extract worker pool.
type Pool struct {
	opts    Options
	breaker *breaker
	claims  atomic.Int64
	logger  *zap.Logger
}

// New builds a Pool.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Second
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 10
	}
	if opts.Clock == nil {
		opts.Clock = pipeline.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pool{
		opts:    opts,
		breaker: newBreaker(opts.BreakerThreshold),
		logger:  opts.Logger,
	}
}

// Run drives the workers until the frontier stays empty for the idle
// timeout, the URL cap is reached, the context is canceled, or the circuit
// breaker opens. Per-task errors never escape; only store failures and the
// open breaker do.
func (p *Pool) Run(ctx context.Context, sessionID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.SetBreakerOpen(false)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			return p.worker(gctx, cancel, id, sessionID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if p.breaker.Open() {
		return ErrCircuitOpen
	}
	return nil
}

func (p *Pool) worker(ctx context.Context, cancelRun context.CancelFunc, id int, sessionID string) error {
	transport, err := p.opts.Factory(ctx)
	if err != nil {
		return fmt.Errorf("worker %d: build transport: %w", id, err)
	}
	defer func() {
		if err := transport.Close(context.Background()); err != nil {
			p.logger.Warn("transport close failed", zap.Int("worker", id), zap.Error(err))
		}
	}()

	log := p.logger.With(zap.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.opts.MaxURLs > 0 && p.claims.Add(1) > int64(p.opts.MaxURLs) {
			log.Debug("url cap reached")
			return nil
		}

		cand, ok := p.opts.Frontier.Next(p.opts.IdleTimeout)
		if !ok {
			log.Debug("frontier drained")
			return nil
		}

		// Once a task starts it runs to its terminal state even if the run
		// is being canceled; only pulling new work stops.
		taskCtx := context.WithoutCancel(ctx)
		halt, err := p.process(taskCtx, transport, cand, sessionID, log)
		if err != nil {
			return err
		}
		if halt {
			cancelRun()
			return ErrCircuitOpen
		}

		if err := p.interTaskDelay(ctx); err != nil {
			return nil
		}
	}
}

// process drives one candidate to DONE or FAILED. The bool result reports
// that the circuit breaker just opened. Only store errors are returned.
func (p *Pool) process(ctx context.Context, transport pipeline.Transport, cand pipeline.CandidateURL, sessionID string, log *zap.Logger) (bool, error) {
	claimed, err := p.opts.Store.MarkStatus(ctx, cand.URLHash, pipeline.StatusPending, pipeline.StatusInFlight)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", cand.URL, err)
	}
	if !claimed {
		return false, nil
	}

	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	decision, err := p.opts.Tracker.ShouldFetch(ctx, cand.URL, tracker.Options{ForceRefresh: p.opts.ForceRefresh})
	if err != nil {
		return false, fmt.Errorf("should fetch %s: %w", cand.URL, err)
	}
	if !decision.Fetch {
		if _, err := p.opts.Store.MarkStatus(ctx, cand.URLHash, pipeline.StatusInFlight, pipeline.StatusDone); err != nil {
			return false, fmt.Errorf("finish %s: %w", cand.URL, err)
		}
		p.emit(report.Event{
			SessionID:     sessionID,
			Kind:          report.KindSkipped,
			URL:           cand.URL,
			Note:          decision.Reason,
			FrontierDepth: p.opts.Frontier.Depth(),
		})
		return false, nil
	}

	start := time.Now()
	outcome, attempts := p.fetchExtract(ctx, transport, cand, sessionID)
	dur := time.Since(start)

	if outcome.OK {
		quality, err := p.opts.Tracker.RecordOutcome(ctx, cand.URL, outcome.Record, true, nil)
		if err != nil {
			return false, fmt.Errorf("record outcome %s: %w", cand.URL, err)
		}
		if _, err := p.opts.Store.MarkStatus(ctx, cand.URLHash, pipeline.StatusInFlight, pipeline.StatusDone); err != nil {
			return false, fmt.Errorf("finish %s: %w", cand.URL, err)
		}
		p.breaker.Success()
		p.emit(report.Event{
			SessionID:     sessionID,
			Kind:          report.KindFetched,
			URL:           cand.URL,
			Quality:       quality,
			Attempts:      attempts,
			Dur:           dur,
			FrontierDepth: p.opts.Frontier.Depth(),
		})
		return false, nil
	}

	if _, err := p.opts.Tracker.RecordOutcome(ctx, cand.URL, nil, false, outcome.Err); err != nil {
		return false, fmt.Errorf("record outcome %s: %w", cand.URL, err)
	}
	if _, err := p.opts.Store.MarkStatus(ctx, cand.URLHash, pipeline.StatusInFlight, pipeline.StatusFailed); err != nil {
		return false, fmt.Errorf("finish %s: %w", cand.URL, err)
	}
	p.emit(report.Event{
		SessionID:     sessionID,
		Kind:          report.KindFailed,
		URL:           cand.URL,
		Attempts:      attempts,
		Dur:           dur,
		Note:          errText(outcome.Err),
		FrontierDepth: p.opts.Frontier.Depth(),
	})
	log.Debug("task failed", zap.String("url", cand.URL), zap.Int("attempts", attempts), zap.Error(outcome.Err))

	if p.breaker.Failure() {
		log.Warn("circuit breaker opened", zap.String("url", cand.URL))
		return true, nil
	}
	return false, nil
}

// fetchExtract runs the fetch-with-retries plus extraction state machine and
// returns an explicit outcome. Extraction errors are terminal for the
// attempt; a future run may retry via the freshness policy.
func (p *Pool) fetchExtract(ctx context.Context, transport pipeline.Transport, cand pipeline.CandidateURL, sessionID string) (pipeline.FetchOutcome, int) {
	attempt := 0
	for {
		page, err := transport.Fetch(ctx, cand.URL, p.opts.FetchTimeout)
		if err == nil {
			record, hints, exErr := p.opts.Extractor.Extract(page)
			if exErr != nil {
				return pipeline.FetchOutcome{Err: fmt.Errorf("extract: %w", exErr)}, attempt + 1
			}
			return pipeline.FetchOutcome{OK: true, Record: record, Hints: hints}, attempt + 1
		}

		if !p.opts.Retry.ShouldRetry(err, attempt) {
			return pipeline.FetchOutcome{Err: err}, attempt + 1
		}
		p.emit(report.Event{
			SessionID:     sessionID,
			Kind:          report.KindRetried,
			URL:           cand.URL,
			Attempts:      attempt + 1,
			Note:          errText(err),
			FrontierDepth: p.opts.Frontier.Depth(),
		})
		if err := sleepCtx(ctx, p.opts.Retry.Backoff(attempt)); err != nil {
			return pipeline.FetchOutcome{Err: err}, attempt + 1
		}
		attempt++
	}
}

// interTaskDelay applies the randomized politeness pause between tasks.
func (p *Pool) interTaskDelay(ctx context.Context) error {
	d := p.opts.DelayMin
	if span := p.opts.DelayMax - p.opts.DelayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	return sleepCtx(ctx, d)
}

func (p *Pool) emit(ev report.Event) {
	if p.opts.Emitter == nil {
		return
	}
	ev.TS = p.opts.Clock.Now()
	p.opts.Emitter.Emit(ev)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
