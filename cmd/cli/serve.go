package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/certguard/internal/bootstrap"
)

// NewServeCommand returns the command that runs the HTTP service with its
// background workers until SIGINT or SIGTERM.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the certguard HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, log, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := bootstrap.New(ctx, cfg, v, log)
			if err != nil {
				log.Error(ctx, "Failed to initialize certguard", err)
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := c.Close(closeCtx); err != nil {
					log.Error(closeCtx, "Failed to release resources", err)
				}
			}()

			if err := c.Run(ctx); err != nil {
				log.Error(ctx, "certguard stopped with error", err)
				return err
			}
			log.Info(context.Background(), "certguard stopped")
			return nil
		},
	}
}
