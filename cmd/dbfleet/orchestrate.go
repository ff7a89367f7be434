package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/converge"
	"github.com/cuemby/dbfleet/pkg/types"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate CLUSTER",
	Short: "Run one convergence cycle",
	Long: `Run one convergence cycle for a cluster and print its report as JSON.

With --dry-run the cycle plans its actions without touching the platform.
The command exits non-zero when the cycle does not converge.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().Bool("dry-run", false, "Plan actions without applying them")

	rootCmd.AddCommand(orchestrateCmd)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	clusterID := args[0]

	mode := types.ModeApply
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		mode = types.ModeDryRun
	}

	// Ctrl+C cancels the cycle; its Failed report is still printed
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *types.OrchestrateReport
	var runErr error
	if addr := serverAddr(cmd); addr != "" {
		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}
		report, runErr = c.Orchestrate(ctx, clusterID, mode)
	} else {
		n, err := openNode(cfg, nodeOptions{OneShot: true})
		if err != nil {
			return err
		}
		defer n.Close()

		if _, err := n.store.GetCluster(clusterID); err != nil {
			return err
		}
		report, runErr = n.engine.Orchestrate(ctx, converge.Request{ClusterID: clusterID, Mode: mode})
	}

	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.State != types.StateConverged {
		return fmt.Errorf("cluster %s ended in state %s", clusterID, report.State)
	}
	return nil
}
