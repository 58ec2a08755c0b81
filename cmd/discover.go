package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/discovery"
	"github.com/marketscout/crawler/internal/frontier"
	"github.com/marketscout/crawler/internal/logging"
	"github.com/marketscout/crawler/internal/pipeline"
	"github.com/marketscout/crawler/internal/report"
	"github.com/marketscout/crawler/internal/report/sinks"
	"github.com/marketscout/crawler/internal/store"
	"github.com/marketscout/crawler/internal/transport"
	"github.com/marketscout/crawler/internal/validator"
)

func newDiscoverCmd() *cobra.Command {
	var (
		startPage int
		maxPages  int
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk listing-index pages and enqueue detail URLs",
		Long: `Walks the configured marketplace's paginated index, classifies every
link, and feeds listing URLs into the frontier. Stops early on its own when
freshly discovered URLs mostly overlap crawl history.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscover(cmd, startPage, maxPages, sessionID)
		},
	}

	cmd.Flags().IntVar(&startPage, "start-page", 1, "index page to start from")
	cmd.Flags().IntVar(&maxPages, "max-pages", 10, "maximum index pages to walk")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: random)")
	return cmd
}

func runDiscover(cmd *cobra.Command, startPage, maxPages int, sessionID string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := app.Cfg
	logger := logging.ForComponent(app.Logger, "discovery")

	if cfg.Discovery.BaseURL == "" {
		return errors.New("discovery.base_url is not configured")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	lastScrape := previousScrapeTime(ctx, app.Store)
	if err := createSession(ctx, app.Store, sessionID, cfg.Discovery); err != nil {
		return err
	}

	fr := frontier.New(app.Store, cfg.Frontier.MaxSize, nil, logger)
	if _, err := fr.Reload(ctx); err != nil {
		return err
	}

	hub := report.NewHub(report.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewStoreSink(app.Store, cfg.Pool.CheckpointEvery, logger),
		sinks.NewPrometheusSink(),
	)

	factory, err := transport.Factory(cfg.Transport.Kind, transportOptions(cfg, logger))
	if err != nil {
		return err
	}
	tr, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer func() {
		if cerr := tr.Close(context.Background()); cerr != nil {
			logger.Warn("transport close failed", zap.Error(cerr))
		}
	}()

	delayMin, delayMax := cfg.RequestDelayRange()
	crawler := discovery.New(discovery.Options{
		Transport:    tr,
		Frontier:     fr,
		Validator:    validator.New(app.Store, logger),
		Emitter:      hub,
		Logger:       logger,
		Config:       cfg.Discovery,
		DelayMin:     delayMin,
		DelayMax:     delayMax,
		FetchTimeout: cfg.TransportTimeout(),
	})

	res, runErr := crawler.Run(ctx, startPage, maxPages, sessionID, lastScrape)

	if err := hub.Close(context.Background()); err != nil {
		logger.Warn("report hub close failed", zap.Error(err))
	}

	now := time.Now().UTC()
	closeErr := app.Store.CloseSession(ctx, pipeline.ScrapeSession{
		ID:         sessionID,
		FinishedAt: &now,
		Requested:  res.LinksFound,
		NewCount:   res.Accepted,
		DupCount:   res.Duplicates,
	})
	if closeErr != nil {
		logger.Warn("close session failed", zap.Error(closeErr))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s\n", sessionID)
	fmt.Fprintf(out, "pages visited:   %d\n", res.PagesVisited)
	fmt.Fprintf(out, "links found:     %d\n", res.LinksFound)
	fmt.Fprintf(out, "accepted:        %d\n", res.Accepted)
	fmt.Fprintf(out, "duplicates:      %d\n", res.Duplicates)
	fmt.Fprintf(out, "last confidence: %.2f\n", res.LastConfidence)
	if res.StoppedEarly {
		fmt.Fprintf(out, "stopped early:   %s\n", res.StopReason)
	}
	return runErr
}

func previousScrapeTime(ctx context.Context, st *store.Store) time.Time {
	sess, err := st.LatestClosedSession(ctx)
	if err != nil || sess.FinishedAt == nil {
		return time.Time{}
	}
	return *sess.FinishedAt
}

func createSession(ctx context.Context, st *store.Store, sessionID string, cfgSection any) error {
	cfgJSON, err := json.Marshal(cfgSection)
	if err != nil {
		cfgJSON = []byte("{}")
	}
	return st.CreateSession(ctx, pipeline.ScrapeSession{
		ID:         sessionID,
		StartedAt:  time.Now().UTC(),
		ConfigJSON: string(cfgJSON),
	})
}
