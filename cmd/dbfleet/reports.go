package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/types"
)

var reportsCmd = &cobra.Command{
	Use:   "reports CLUSTER",
	Short: "Show the cycle history of a cluster",
	Long: `Show the most recent orchestration reports of a cluster, newest first.

Use --json to print the full reports including every note.`,
	Args: cobra.ExactArgs(1),
	RunE: runReports,
}

func init() {
	reportsCmd.Flags().Int("limit", 10, "Number of reports to show")
	reportsCmd.Flags().Bool("json", false, "Print full reports as JSON")

	rootCmd.AddCommand(reportsCmd)
}

func runReports(cmd *cobra.Command, args []string) error {
	clusterID := args[0]
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	var reports []*types.OrchestrateReport
	if addr := serverAddr(cmd); addr != "" {
		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}
		if reports, err = c.ListReports(cmd.Context(), clusterID, limit); err != nil {
			return err
		}
	} else {
		n, err := openNode(cfg, nodeOptions{OneShot: true})
		if err != nil {
			return err
		}
		defer n.Close()

		if _, err := n.store.GetCluster(clusterID); err != nil {
			return err
		}
		if reports, err = n.store.ListReports(clusterID, limit); err != nil {
			return err
		}
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Println("No reports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CYCLE\tMODE\tSTATE\tGENERATION\tNOTES\tSTARTED\tDURATION")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(r.CycleID),
			r.Mode,
			r.State,
			r.Generation,
			len(r.Notes),
			r.StartedAt.Local().Format(time.DateTime),
			r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
