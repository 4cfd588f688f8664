// Package cli implements guardctl, the certguard operator tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/turtacn/certguard/internal/bootstrap"
	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/internal/infrastructure/monitoring"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operate the certguard abuse-prevention service",
	Long: `guardctl runs the certguard HTTP service and performs administrative tasks
against its stores: clearing blocks, running maintenance and reading statistics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: /etc/certguard or ./config.yaml)")
	rootCmd.AddCommand(
		NewServeCommand(),
		newPurgeCommand(),
		newRetentionCommand(),
		newStatsCommand(),
		newBlockCommand(),
		newUnblockCommand(),
		newTokenCommand(),
	)
}

// Execute runs guardctl and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ConfigPath exposes the --config value for binaries that mount a single command.
func ConfigPath() *string {
	return &configPath
}

// loadConfig reads the configuration and builds the logger described by it. Logs
// go to stderr unless a file is configured so command output stays parseable.
func loadConfig(path string) (*config.Config, *viper.Viper, logger.Logger, error) {
	cfg, v, err := config.LoadConfig(path, logger.NewLogger(constants.LogLevelWarn, os.Stderr))
	if err != nil {
		return nil, nil, nil, err
	}
	logCfg := cfg.Log
	if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
		logCfg.OutputPath = "stderr"
	}
	log, err := monitoring.NewZapLogger(&logCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, v, log, nil
}

// withContainer builds the application, hands it to fn and releases it afterwards.
// Admin actions taken through the container are attributed to the local operator.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	cfg, v, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.WithValue(cmd.Context(), constants.ContextKeyAdminSubject, operator())
	c, err := bootstrap.New(ctx, cfg, v, log)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())
	return fn(ctx, c)
}

func operator() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
