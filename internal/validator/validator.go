// Package validator implements the incremental-stop heuristic: it measures
// how much of a just-discovered batch overlaps history and advises the
// discovery crawler whether continuing is worthwhile.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/store"
)

// Recommendation is the advisory bucket derived from batch confidence. The
// discovery crawler owns the actual stop decision.
type Recommendation string

// Recommendation buckets, highest confidence first.
const (
	ContinueMostlyNew Recommendation = "continue, mostly new"
	ContinueMixed     Recommendation = "continue, mixed"
	ConsiderStopping  Recommendation = "consider stopping"
	StopOldTerritory  Recommendation = "stop, old territory"
)

// Result summarizes one batch validation.
type Result struct {
	NewCount            int
	SeenBeforeCount     int
	SeenAfterLastScrape int
	Confidence          float64
	Recommendation      Recommendation
}

// TrackedReader is the slice of the store the validator needs.
type TrackedReader interface {
	GetTracked(ctx context.Context, urlHash string) (pipeline.TrackedResource, error)
}

// Validator checks URL batches against the tracked-resource history.
type Validator struct {
	tracked TrackedReader
	logger  *zap.Logger
}

// New builds a Validator.
func New(tracked TrackedReader, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{tracked: tracked, logger: logger}
}

// Validate classifies each URL as new, seen-before, or seen-again since the
// last scrape, and derives confidence = (new + seenAfterLastScrape) / total.
func (v *Validator) Validate(ctx context.Context, urls []string, lastScrape time.Time) (Result, error) {
	var res Result
	if len(urls) == 0 {
		res.Confidence = 1
		res.Recommendation = ContinueMostlyNew
		return res, nil
	}

	for _, raw := range urls {
		normalized, err := pipeline.NormalizeURL(raw)
		if err != nil {
			// unparseable URLs never entered history; count as new
			res.NewCount++
			continue
		}
		tracked, err := v.tracked.GetTracked(ctx, pipeline.HashURL(normalized))
		switch {
		case errors.Is(err, store.ErrNotFound):
			res.NewCount++
		case err != nil:
			return Result{}, fmt.Errorf("validate batch: %w", err)
		case !lastScrape.IsZero() && tracked.LastSeen.After(lastScrape):
			res.SeenAfterLastScrape++
		default:
			res.SeenBeforeCount++
		}
	}

	total := res.NewCount + res.SeenBeforeCount + res.SeenAfterLastScrape
	res.Confidence = float64(res.NewCount+res.SeenAfterLastScrape) / float64(total)
	res.Recommendation = recommend(res.Confidence)

	v.logger.Debug("validated batch",
		zap.Int("total", total),
		zap.Int("new", res.NewCount),
		zap.Float64("confidence", res.Confidence),
		zap.String("recommendation", string(res.Recommendation)),
	)
	return res, nil
}

func recommend(confidence float64) Recommendation {
	switch {
	case confidence >= 0.8:
		return ContinueMostlyNew
	case confidence > 0.5:
		return ContinueMixed
	case confidence > 0.2:
		return ConsiderStopping
	default:
		return StopOldTerritory
	}
}
