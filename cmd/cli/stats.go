package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/bootstrap"
	"github.com/turtacn/certguard/pkg/constants"
)

func newStatsCommand() *cobra.Command {
	var (
		from, to string
		top      int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise audit decisions over a time range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := &dto.StatsQuery{Top: top}
			end := time.Now().UTC()
			if to != "" {
				t, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				end = t
			}
			start := end.Add(-24 * time.Hour)
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = t
			}
			q.From, q.To = start, end

			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				report, err := c.Stats.Report(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd, report.StatsReport)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start of the range (default: 24h before --to)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end of the range (default: now)")
	cmd.Flags().IntVar(&top, "top", constants.DefaultTopOffenders, "number of top offenders to list")
	return cmd
}
