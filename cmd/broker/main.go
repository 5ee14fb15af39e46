package main

import (
	"os"

	"nodebroker/pkg/log"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// Initialize logger first
	_ = log.Logger

	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "broker",
		Short:         "Storage node broker: placement, health and node registry",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (falls back to CONFIG_PATH)")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newSweepCommand(&configPath),
		newNodesCommand(&configPath),
	)
	return rootCmd
}
