package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/api"
	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/config"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a cluster definition",
	Long: `Apply a Cluster document from a YAML, TOML, or JSON(C) file.

The cluster record is created or updated and its desired configuration is
stored under a new revision. The next convergence cycle works toward it.

Examples:
  # Store a cluster in the local data directory
  dbfleet apply -f orders.yaml

  # Apply through a running server
  dbfleet apply -f orders.toml --server 127.0.0.1:9090`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Cluster document to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	doc, err := config.LoadDocument(filename)
	if err != nil {
		return err
	}

	var result *api.ApplyResult
	if addr := serverAddr(cmd); addr != "" {
		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}
		// The server takes JSON; re-encode whatever format the file used
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		result, err = c.Apply(cmd.Context(), body)
		if err != nil {
			return fmt.Errorf("failed to apply cluster: %w", err)
		}
	} else {
		n, err := openNode(cfg, nodeOptions{OneShot: true})
		if err != nil {
			return err
		}
		defer n.Close()

		result, err = api.ApplyDocument(n.store, doc, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to apply cluster: %w", err)
		}
	}

	verb := "configured"
	if result.Created {
		verb = "created"
	}
	fmt.Fprintf(os.Stdout, "✓ Cluster %s %s (desired revision %d)\n", result.Cluster.ID, verb, result.Revision)
	return nil
}
