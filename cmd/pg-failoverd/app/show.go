package app

import (
	"context"
	"fmt"
	"os"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"

	"github.com/marcbachmann/pg-auto-failover/internal/config"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// NewShowCmd builds the `show` subcommand, a direct read against
// the configured store rendered as a colored table, the way the
// teacher's status plugin reads the Kubernetes API directly rather than
// going through the operator's own HTTP surface.
func NewShowCmd() *cobra.Command {
	f := &Flags{}
	var formationID string
	var groupID int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current state of a replication group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), f.ConfigPath, formationID, groupID)
		},
	}
	f.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&formationID, "formation", "default", "formation id to inspect")
	cmd.Flags().IntVar(&groupID, "group", 1, "group id to inspect")
	return cmd
}

func runShow(ctx context.Context, configPath, formationID string, groupID int) error {
	var yamlDoc []byte
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("app: reading config file: %w", err)
		}
		yamlDoc = data
	}

	cfg, err := config.Load(yamlDoc, config.OSEnvironment)
	if err != nil {
		return fmt.Errorf("app: loading config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app: opening store: %w", err)
	}
	defer st.Close()

	snap, err := st.GroupSnapshot(ctx, formationID, groupID)
	if err != nil {
		return fmt.Errorf("app: loading group snapshot: %w", err)
	}

	t := tabby.New()
	t.AddHeader("ID", "NAME", "REPORTED", "GOAL", "LSN", "HEALTH")
	for _, n := range snap.Nodes {
		t.AddLine(n.ID, n.Name, n.ReportedState, n.GoalState, n.ReportedLSN, healthCell(n))
	}
	t.Print()
	return nil
}

func healthCell(n node.Node) interface{} {
	if !n.PgIsRunning {
		return aurora.Red("down")
	}
	if n.ReportedState != n.GoalState {
		return aurora.Yellow("converging")
	}
	if n.ReportedState == state.Primary || n.ReportedState == state.Single {
		return aurora.Green("primary")
	}
	return aurora.Green("healthy")
}
