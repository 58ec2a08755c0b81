// Package cmd defines and implements the CLI commands for the marketscout
// crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscout/crawler/internal/config"
	"github.com/marketscout/crawler/internal/logging"
	"github.com/marketscout/crawler/internal/metrics"
	"github.com/marketscout/crawler/internal/pool"
	"github.com/marketscout/crawler/internal/store"
)

var (
	cfgFile    string
	devLogging bool
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the services every subcommand needs.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Store  *store.Store
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// newApp is a variable so tests can swap in a fake factory.
var newApp = func(ctx context.Context) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development || devLogging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Init()
	metrics.Serve(cfg.Metrics.Addr)

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	return &App{Cfg: cfg, Logger: logger, Store: st}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketscout",
		Short: "Continuous crawler for marketplace listing pages",
		Long: `marketscout discovers listing URLs from paginated index pages,
keeps a freshness/quality record per listing, and fetches listing details
with a resilient worker pool. All state lives in an embedded store, so runs
can stop, crash, and resume without losing work.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := cmd.Context().Value(appKey).(*App); ok && app != nil {
				app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars MARKETSCOUT_* override")
	cmd.PersistentFlags().BoolVar(&devLogging, "dev-logging", false, "force development console logging")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute runs the CLI and maps errors onto process exit codes: 0 success,
// 1 configuration or usage error, 2 circuit-breaker halt, 3 unrecoverable
// store error.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, pool.ErrCircuitOpen):
			return 2
		case errors.Is(err, store.ErrUnavailable):
			return 3
		default:
			return 1
		}
	}
	return 0
}
