package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/certguard/internal/bootstrap"
)

func newPurgeCommand() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete counters whose window ended",
		Long: `purge deletes counter rows whose window ended before --before. Without the
flag it uses the current time minus cleanup.counter_grace. Active blocks are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cutoff time.Time
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("--before: %w", err)
				}
				cutoff = t
			}
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				var (
					deleted int64
					err     error
				)
				if cutoff.IsZero() {
					deleted, err = c.Maintenance.PurgeExpired(ctx, time.Now())
				} else {
					deleted, err = c.Maintenance.PurgeCounters(ctx, cutoff)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"counters_purged": deleted})
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff; windows ending before it are deleted")
	return cmd
}

func newRetentionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Apply audit log retention now",
		Long:  "retention deletes audit entries older than audit.retention_days and then trims the log to audit.max_logs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				expired, trimmed, err := c.Maintenance.EnforceRetention(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"logs_expired": expired, "logs_trimmed": trimmed})
			})
		},
	}
}
