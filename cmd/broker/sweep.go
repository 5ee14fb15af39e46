package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(configPath *string) *cobra.Command {
	var resources bool

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Probe every node once and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			broker, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer broker.Close()

			ping := broker.monitor.PingSweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "ping:      checked=%d healthy=%d failed=%d skipped=%d\n",
				ping.Checked, ping.Healthy, ping.Failed, ping.Skipped)

			if resources {
				usage := broker.monitor.ResourceSweep(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "resources: checked=%d healthy=%d failed=%d skipped=%d\n",
					usage.Checked, usage.Healthy, usage.Failed, usage.Skipped)
			}
			return nil
		},
	}
	sweepCmd.Flags().BoolVarP(&resources, "resources", "r", true, "Also run the resource and auth checks")

	return sweepCmd
}
