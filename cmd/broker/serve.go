package main

import (
	"os"
	"os/signal"
	"syscall"

	"nodebroker/pkg/log"

	"github.com/spf13/cobra"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker API and the background health monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			broker, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := broker.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("Failed to close stores")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("version", Version).
				Str("node_db", cfg.Storage.NodeDB).
				Str("index_db", cfg.Storage.IndexDB).
				Dur("ping_interval", cfg.Monitor.PingInterval).
				Dur("resource_interval", cfg.Monitor.ResourceInterval).
				Msg("Broker starting")

			broker.monitor.Start(ctx)
			defer broker.monitor.Stop()

			return broker.server().Start(ctx, cfg.HTTP.Addr)
		},
	}
}
