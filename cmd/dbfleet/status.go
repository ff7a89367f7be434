package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serverAddr(cmd)
		if addr == "" {
			addr = cfg.HTTPAddr
		}
		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		health, err := c.Health(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Status:  %s\n", health.Status)
		fmt.Printf("Version: %s\n", health.Version)
		fmt.Printf("Uptime:  %s\n", health.Uptime)

		names := make([]string, 0, len(health.Components))
		for name := range health.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-12s %s\n", name, health.Components[name])
		}

		grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
		if grpcAddr == "" {
			grpcAddr = cfg.GRPCAddr
		}
		serving, err := client.CheckGRPC(ctx, grpcAddr, "")
		if err != nil {
			fmt.Printf("gRPC:    %v\n", err)
		} else {
			fmt.Printf("gRPC:    %s\n", serving)
		}

		if health.Status == metrics.StatusUnhealthy {
			return fmt.Errorf("server is unhealthy")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("grpc-addr", "", "gRPC health address (default from config)")

	rootCmd.AddCommand(statusCmd)
}
