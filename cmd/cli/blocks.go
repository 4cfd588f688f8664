package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/bootstrap"
)

func newBlockCommand() *cobra.Command {
	var (
		scope, reason string
		duration      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "block <dimension> <identifier>",
		Short: "Block an identifier for a fixed duration",
		Example: `  guardctl block email fraud@example.com --duration 24h --reason "chargeback"
  guardctl block ip 198.51.100.4 --scope cert:issue --duration 1h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &dto.BlockRequest{
				Dimension:       args[0],
				Identifier:      args[1],
				Scope:           scope,
				DurationSeconds: int64(duration / time.Second),
				Reason:          reason,
			}
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				resp, err := c.Guard.Block(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope of the block")
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason stored with the block")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "how long the block lasts")
	return cmd
}

func newUnblockCommand() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "unblock <dimension> <identifier>",
		Short: "Clear the block on an identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &dto.UnblockRequest{Dimension: args[0], Identifier: args[1], Scope: scope}
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				resp, err := c.Guard.Unblock(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope of the block")
	return cmd
}
