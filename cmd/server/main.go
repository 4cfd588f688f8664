package main

import (
	"os"

	"github.com/turtacn/certguard/cmd/cli"
)

func main() {
	cmd := cli.NewServeCommand()
	cmd.Use = "certguard"
	cmd.PersistentFlags().StringVar(cli.ConfigPath(), "config", "", "path to config.yaml")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
