package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/platform"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List and toggle platforms",
}

var platformsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List platforms",
	Long: `List platforms and whether they are active.

Without --server the configured platforms are shown; with --server the
running server's current activation state is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var statuses []platform.Status
		if addr := serverAddr(cmd); addr != "" {
			c, err := client.NewClient(addr)
			if err != nil {
				return err
			}
			if statuses, err = c.ListPlatforms(cmd.Context()); err != nil {
				return err
			}
		} else {
			reg, err := platform.Build(cfg.PlatformSpecs())
			if err != nil {
				return err
			}
			statuses = reg.List()
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tACTIVE")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%t\n", s.Name, s.Active)
		}
		return w.Flush()
	},
}

func toggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: fmt.Sprintf("Set a platform's active flag to %t on a running server", active),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := serverAddr(cmd)
			if addr == "" {
				return fmt.Errorf("--server is required: activation is runtime state of a server")
			}
			c, err := client.NewClient(addr)
			if err != nil {
				return err
			}
			if err := c.SetPlatformActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Printf("✓ Platform %s active=%t\n", args[0], active)
			return nil
		},
	}
}

func init() {
	platformsCmd.AddCommand(platformsListCmd)
	platformsCmd.AddCommand(toggleCmd("enable", true))
	platformsCmd.AddCommand(toggleCmd("disable", false))

	rootCmd.AddCommand(platformsCmd)
}
