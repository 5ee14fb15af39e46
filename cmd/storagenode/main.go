package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"nodebroker/pkg/config"
	"nodebroker/pkg/log"
	"nodebroker/pkg/storagenode"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type brokerFlags struct {
	url      string
	userID   string
	name     string
	password string
	endpoint string
}

func main() {
	// Initialize logger first
	_ = log.Logger

	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Storage node failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		broker     brokerFlags
	)

	rootCmd := &cobra.Command{
		Use:           "storagenode",
		Short:         "Reference storage node serving the broker transfer protocol",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, broker)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to YAML config (falls back to CONFIG_PATH)")
	flags.StringVar(&broker.url, "broker", os.Getenv("BROKER_URL"), "Broker base URL to log in to")
	flags.StringVar(&broker.userID, "user", os.Getenv("BROKER_USER_ID"), "Owner user id of this node")
	flags.StringVar(&broker.name, "name", os.Getenv("BROKER_NODE_NAME"), "Registered node name")
	flags.StringVar(&broker.password, "password", os.Getenv("BROKER_NODE_PASSWORD"), "Registered node password")
	flags.StringVar(&broker.endpoint, "endpoint", os.Getenv("BROKER_NODE_ENDPOINT"), "Public URL the broker uses to reach this node")

	return rootCmd
}

func run(ctx context.Context, configPath string, broker brokerFlags) error {
	cfg, err := config.LoadNode(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	node, err := storagenode.New(cfg.DataDir, cfg.Token, cfg.MaxBodySize, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.Start(ctx, cfg.Addr)
	}()

	if broker.url != "" {
		nodeID, err := node.Login(ctx, broker.url, storagenode.Credentials{
			UserID:   broker.userID,
			Name:     broker.name,
			Password: broker.password,
			Endpoint: broker.endpoint,
		})
		if err != nil {
			stop()
			<-errCh
			return err
		}
		log.Info().Str("node_id", nodeID).Str("broker", broker.url).Msg("Node ready")
	} else if cfg.Token == "" {
		log.Warn().Msg("No token configured and no broker login requested; all storage requests will be rejected")
	}

	return <-errCh
}
