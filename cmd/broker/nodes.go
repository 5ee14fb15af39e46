package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"nodebroker/pkg/models"
	"nodebroker/pkg/nodestore"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newNodesCommand(configPath *string) *cobra.Command {
	var owner string

	nodesCmd := &cobra.Command{
		Use:   "nodes",
		Short: "List registered nodes with their availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			store, err := nodestore.Open(cfg.Storage.NodeDB)
			if err != nil {
				return err
			}
			defer store.Close()

			var nodes []*models.Node
			if owner != "" {
				nodes, err = store.ListByOwner(cmd.Context(), owner)
			} else {
				nodes, err = store.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			printNodes(cmd.OutOrStdout(), nodes)
			return nil
		},
	}
	nodesCmd.Flags().StringVarP(&owner, "owner", "o", "", "Only list nodes owned by this user")

	return nodesCmd
}

func printNodes(out io.Writer, nodes []*models.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No nodes registered.")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(writer, "ID\tNAME\tREGION\tONLINE\tLEVEL\tREASON\tFILES USED\tFILES QUOTA\tSEEN")
	for _, node := range nodes {
		seen := "never"
		if !node.Availability.Timestamp.IsZero() {
			seen = humanize.Time(node.Availability.Timestamp)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			node.ID,
			node.Name,
			node.Region,
			node.IsOnline,
			levelColor(node.Availability.Level).Sprint(node.Availability.Level),
			node.Availability.Reason,
			humanize.IBytes(uint64(node.AllocatedFileStorage.Used)),
			humanize.IBytes(uint64(node.AllocatedFileStorage.Quota())),
			seen,
		)
	}
	_ = writer.Flush()
}

func levelColor(level models.CriticalLevel) *color.Color {
	switch level {
	case models.CriticalHigh:
		return color.New(color.FgRed, color.Bold)
	case models.CriticalMedium:
		return color.New(color.FgYellow)
	case models.CriticalLow:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}
