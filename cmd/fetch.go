package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/cache"
	"github.com/marketscout/crawler/internal/config"
	"github.com/marketscout/crawler/internal/extractor"
	"github.com/marketscout/crawler/internal/frontier"
	"github.com/marketscout/crawler/internal/logging"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/pool"
	"github.com/marketscout/crawler/internal/report"
	"github.com/marketscout/crawler/internal/report/sinks"
	"github.com/marketscout/crawler/internal/tracker"
	"github.com/marketscout/crawler/internal/transport"
)

func newFetchCmd() *cobra.Command {
	var (
		workers      int
		maxURLs      int
		forceRefresh bool
		sessionID    string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Process queued listing URLs with the worker pool",
		Long: `Rebuilds the frontier from pending rows in the store and drains it
with parallel fetch-extract workers. Each worker owns its own transport;
retriable failures back off exponentially and a pool-wide circuit breaker
halts the run after sustained failures.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, workers, maxURLs, forceRefresh, sessionID)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (default: pool.max_workers)")
	cmd.Flags().IntVar(&maxURLs, "max-urls", 0, "stop after this many URLs (0 = no cap)")
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "re-fetch even fresh high-quality listings")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: random)")
	return cmd
}

func runFetch(cmd *cobra.Command, workers, maxURLs int, forceRefresh bool, sessionID string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := app.Cfg
	logger := logging.ForComponent(app.Logger, "pool")

	if workers <= 0 {
		workers = cfg.Pool.MaxWorkers
	}
	if maxURLs <= 0 {
		maxURLs = cfg.Pool.MaxURLs
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := createSession(ctx, app.Store, sessionID, cfg.Pool); err != nil {
		return err
	}

	fr := frontier.New(app.Store, cfg.Frontier.MaxSize, nil, logger)
	loaded, err := fr.Reload(ctx)
	if err != nil {
		return err
	}
	logger.Info("frontier reloaded", zap.Int("pending", loaded))

	hub := report.NewHub(report.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewStoreSink(app.Store, cfg.Pool.CheckpointEvery, logger),
		sinks.NewPrometheusSink(),
	)

	memo := cache.New(cfg.Cache.MaxBytes, cfg.Cache.DefaultTTL, nil)
	trk := tracker.New(app.Store, memo, nil, tracker.Config{
		QualityThreshold:   cfg.Tracker.QualityThreshold,
		ForceRescrapeAfter: time.Duration(cfg.Tracker.ForceRescrapeAfterDays) * 24 * time.Hour,
		FieldWeights:       cfg.Tracker.FieldWeights,
	}, logger)

	factory, err := transport.Factory(cfg.Transport.Kind, transportOptions(cfg, logger))
	if err != nil {
		return err
	}

	delayMin, delayMax := cfg.RequestDelayRange()
	p := pool.New(pool.Options{
		Frontier:         fr,
		Tracker:          trk,
		Store:            app.Store,
		Factory:          factory,
		Extractor:        extractor.New(extractor.Selectors{}),
		Retry:            pipeline.NewExponentialRetryPolicy(cfg.Pool.MaxRetries),
		Emitter:          hub,
		Logger:           logger,
		Workers:          workers,
		FetchTimeout:     cfg.TransportTimeout(),
		BreakerThreshold: cfg.Pool.CircuitBreakerThreshold,
		MaxURLs:          maxURLs,
		ForceRefresh:     forceRefresh,
		DelayMin:         delayMin,
		DelayMax:         delayMax,
	})

	runErr := p.Run(ctx, sessionID)
	fr.Close()

	if err := hub.Close(context.Background()); err != nil {
		logger.Warn("report hub close failed", zap.Error(err))
	}
	summary := hub.Summary()

	now := time.Now().UTC()
	if err := app.Store.CloseSession(ctx, pipeline.ScrapeSession{
		ID:         sessionID,
		FinishedAt: &now,
		Requested:  int(summary.Completed()),
		NewCount:   int(summary.Fetched),
		DupCount:   int(summary.Skipped),
		FailCount:  int(summary.Failed),
	}); err != nil {
		logger.Warn("close session failed", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s\n", sessionID)
	fmt.Fprintf(out, "fetched: %d\n", summary.Fetched)
	fmt.Fprintf(out, "skipped: %d\n", summary.Skipped)
	fmt.Fprintf(out, "failed:  %d\n", summary.Failed)
	fmt.Fprintf(out, "retries: %d\n", summary.Retries)
	if runErr != nil {
		fmt.Fprintf(out, "halted:  %v\n", runErr)
	}

	cacheStats := memo.Stats()
	logger.Info("run finished",
		zap.Int64("cache_hits", cacheStats.Hits),
		zap.Int64("cache_misses", cacheStats.Misses),
		zap.Int("frontier_depth", fr.Depth()),
	)
	return runErr
}

func transportOptions(cfg config.Config, logger *zap.Logger) transport.Options {
	return transport.Options{
		UserAgent:     cfg.Crawl.UserAgent,
		RespectRobots: cfg.Crawl.RespectRobots,
		PerDomainRPS:  cfg.Crawl.PerDomainRPS,
		Logger:        logger,
	}
}
