package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/config"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbfleet",
	Short: "dbfleet - database fleet convergence engine",
	Long: `dbfleet keeps a fleet of replicated database clusters at their
desired topology. Each convergence cycle takes the cluster lock, builds a
view from agent reports, checks it for safety, and runs the eligible
remediation actions against the cluster's platform.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// cfg is the process configuration, loaded before any subcommand runs
var cfg *config.Config

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dbfleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML or TOML)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON")
	rootCmd.PersistentFlags().String("server", "", "Address of a running dbfleet server; when set, commands go through its API")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	logCfg := cfg.LogConfig()
	logCfg.Output = os.Stderr
	log.Init(logCfg)
	metrics.SetVersion(Version)

	return cfg.Validate()
}

// serverAddr returns the --server flag
func serverAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("server")
	return addr
}
