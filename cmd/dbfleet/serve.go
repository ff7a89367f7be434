package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/api"
	"github.com/cuemby/dbfleet/pkg/events"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/reconciler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dbfleet control plane",
	Long: `Run the dbfleet control plane on this node.

The server opens the store and the lock coordinator, serves the HTTP API
and the gRPC health service, and, unless disabled, runs the reconciler
that schedules a convergence cycle for every cluster at a fixed interval.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", "", "HTTP API address (overrides config)")
	serveCmd.Flags().String("grpc-addr", "", "gRPC health address (overrides config)")
	serveCmd.Flags().Bool("no-reconcile", false, "Serve the API without the background reconciler")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if addr, _ := cmd.Flags().GetString("grpc-addr"); addr != "" {
		cfg.GRPCAddr = addr
	}
	if off, _ := cmd.Flags().GetBool("no-reconcile"); off {
		cfg.Reconciler.Enabled = false
	}

	logger := log.WithComponent("serve")

	n, err := openNode(cfg, nodeOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error().Err(err).Msg("Shutdown incomplete")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logEvents(ctx, n.broker)

	collector := metrics.NewCollector(n.store, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	var recon *reconciler.Reconciler
	if cfg.Reconciler.Enabled {
		reconCfg := cfg.ReconcilerConfig()
		if n.raft != nil {
			// Only the raft leader grants locks; followers stand by
			reconCfg.Leader = n.raft.IsLeader
		}
		recon = reconciler.NewReconciler(n.engine, n.store, reconCfg)
		recon.Start(ctx)
		logger.Info().Dur("interval", cfg.Reconciler.Interval.Std()).Msg("Reconciler started")
	}

	httpServer := api.NewServer(api.Options{
		Store:        n.store,
		Orchestrator: n.engine,
		Platforms:    n.platforms,
		Publisher:    n.broker,
		Coordinator:  n.coordinator,
	})
	grpcServer := api.NewGRPCServer(api.GRPCOptions{})
	go grpcServer.Watch(ctx, 5*time.Second)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP API error: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(cfg.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("grpc_addr", cfg.GRPCAddr).
		Msg("dbfleet is running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Server failed")
	}
	stop()

	if recon != nil {
		recon.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP API shutdown")
	}
	grpcServer.Stop()

	return runErr
}

// logEvents writes every broker event to the log until ctx is done
func logEvents(ctx context.Context, broker *events.Broker) {
	logger := log.WithComponent("events")
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			logger.Info().
				Str("type", string(event.Type)).
				Str("cluster_id", event.ClusterID).
				Str("cycle_id", event.CycleID).
				Str("state", string(event.State)).
				Msg(event.Message)
		case <-ctx.Done():
			return
		}
	}
}
