package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketscout/crawler/internal/pipeline"
)

func newStatsCmd() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store counters and recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, prune)
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "soft-retire terminal URLs older than store.retention_days")
	return cmd
}

func runStats(cmd *cobra.Command, prune bool) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	counts, err := app.Store.CountsByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "discovered urls by status:")
	for _, status := range []pipeline.Status{
		pipeline.StatusPending, pipeline.StatusInFlight, pipeline.StatusDone,
		pipeline.StatusFailed, pipeline.StatusRetired,
	} {
		fmt.Fprintf(out, "  %-10s %d\n", status, counts[status])
	}

	sessions, err := app.Store.ListSessions(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "recent sessions:")
	for _, s := range sessions {
		state := "running"
		if s.FinishedAt != nil {
			state = s.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  %s  started=%s finished=%s requested=%d new=%d dup=%d failed=%d\n",
			s.ID, s.StartedAt.Format(time.RFC3339), state,
			s.Requested, s.NewCount, s.DupCount, s.FailCount)
	}

	if prune {
		cutoff := time.Now().UTC().AddDate(0, 0, -app.Cfg.Store.RetentionDays)
		n, err := app.Store.PruneDiscovered(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "retired %d terminal urls older than %s\n", n, cutoff.Format(time.RFC3339))
	}
	return nil
}
