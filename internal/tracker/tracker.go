// Package tracker decides whether a known URL needs re-fetching and records
// the outcome and quality of every fetch attempt. It is the single authority
// for "do we already have this"; the frontier only dedups queue membership.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/cache"
	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/store"
)

// lockShards bounds the keyed-mutex table. Writes for one URL always land on
// the same shard, which serializes RecordOutcome per URL while leaving
// different URLs fully parallel.
const lockShards = 64

// Store is the slice of persistence the tracker depends on.
type Store interface {
	GetTracked(ctx context.Context, urlHash string) (pipeline.TrackedResource, error)
	UpsertTracked(ctx context.Context, res pipeline.TrackedResource) error
}

// Options tunes a single ShouldFetch decision.
type Options struct {
	ForceRefresh     bool
	QualityThreshold float64 // <= 0 means use the tracker default
}

// Decision is the outcome of ShouldFetch.
type Decision struct {
	Fetch  bool
	Reason string
}

// Config holds tracker policy knobs.
type Config struct {
	QualityThreshold   float64
	ForceRescrapeAfter time.Duration
	FieldWeights       map[string]float64
}

// Tracker implements the freshness/quality policy over the persisted store,
// with a bounded cache in front of tracked-resource lookups.
type Tracker struct {
	store  Store
	cache  *cache.Cache
	clock  pipeline.Clock
	logger *zap.Logger
	cfg    Config
	locks  [lockShards]sync.Mutex
}

// New builds a Tracker. The cache is optional; pass nil to hit the store on
// every lookup.
func New(st Store, c *cache.Cache, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = 0.7
	}
	return &Tracker{store: st, cache: c, clock: clock, logger: logger, cfg: cfg}
}

// ShouldFetch reports whether the URL needs a (re)fetch and why.
func (t *Tracker) ShouldFetch(ctx context.Context, rawURL string, opts Options) (Decision, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("should fetch: %w", err)
	}
	hash := pipeline.HashURL(normalized)

	if opts.ForceRefresh {
		return Decision{Fetch: true, Reason: "force refresh requested"}, nil
	}

	res, err := t.lookup(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Fetch: true, Reason: "unseen url"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	threshold := opts.QualityThreshold
	if threshold <= 0 {
		threshold = t.cfg.QualityThreshold
	}

	switch {
	case !res.ExtractionOK:
		return Decision{Fetch: true, Reason: "last attempt failed"}, nil
	case res.QualityScore < threshold:
		return Decision{
			Fetch:  true,
			Reason: fmt.Sprintf("quality %.2f below threshold %.2f", res.QualityScore, threshold),
		}, nil
	case res.ForceRefreshAfter != nil && !t.clock.Now().Before(*res.ForceRefreshAfter):
		return Decision{Fetch: true, Reason: "refresh window elapsed"}, nil
	}
	return Decision{Fetch: false, Reason: "already good"}, nil
}

// RecordOutcome is the only mutator of tracked resources. It must be called
// exactly once per fetch attempt; concurrent calls for different URLs are
// safe, calls for the same URL serialize on a shard lock. Returns the quality
// score recorded for the attempt.
func (t *Tracker) RecordOutcome(ctx context.Context, rawURL string, record pipeline.Record, success bool, fetchErr error) (float64, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return 0, fmt.Errorf("record outcome: %w", err)
	}
	hash := pipeline.HashURL(normalized)

	lock := &t.locks[shard(hash)]
	lock.Lock()
	defer lock.Unlock()

	now := t.clock.Now()
	res, err := t.store.GetTracked(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		res = pipeline.TrackedResource{
			URLHash:   hash,
			URL:       normalized,
			FirstSeen: now,
		}
	} else if err != nil {
		return 0, fmt.Errorf("record outcome: %w", err)
	}

	res.LastSeen = now
	res.SeenCount++
	res.ExtractionOK = success

	var quality float64
	if success {
		quality = Score(record, t.cfg.FieldWeights)
		res.QualityScore = quality
		res.RetryCount = 0
		if t.cfg.ForceRescrapeAfter > 0 {
			refreshAt := now.Add(t.cfg.ForceRescrapeAfter)
			res.ForceRefreshAfter = &refreshAt
		}
	} else {
		res.QualityScore = 0
		res.RetryCount++
		if fetchErr != nil {
			t.logger.Debug("recording failed attempt",
				zap.String("url", normalized),
				zap.Int("retry_count", res.RetryCount),
				zap.Error(fetchErr),
			)
		}
	}

	if err := t.store.UpsertTracked(ctx, res); err != nil {
		return 0, fmt.Errorf("record outcome: %w", err)
	}
	if t.cache != nil {
		t.cache.Invalidate(cacheKey(hash))
		metrics.CacheOp("invalidate")
	}
	return quality, nil
}

// lookup reads through the cache when one is configured.
func (t *Tracker) lookup(ctx context.Context, hash string) (pipeline.TrackedResource, error) {
	if t.cache == nil {
		return t.store.GetTracked(ctx, hash)
	}
	if raw, ok := t.cache.Get(cacheKey(hash)); ok {
		var res pipeline.TrackedResource
		if err := json.Unmarshal(raw, &res); err == nil {
			metrics.CacheOp("hit")
			return res, nil
		}
		t.cache.Invalidate(cacheKey(hash))
	}
	metrics.CacheOp("miss")
	res, err := t.store.GetTracked(ctx, hash)
	if err != nil {
		return pipeline.TrackedResource{}, err
	}
	if raw, err := json.Marshal(res); err == nil {
		t.cache.Put(cacheKey(hash), raw, 0)
	}
	return res, nil
}

func cacheKey(hash string) string {
	return "tracked:" + hash
}

func shard(hash string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hash))
	return int(h.Sum32() % lockShards)
}
