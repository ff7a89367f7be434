package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/dbfleet/pkg/storage"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the local database",
	Long: `Write a consistent copy of the node's bolt database to a file.

The copy can be restored by placing it at <data-dir>/dbfleet.db while the
node is stopped. The database is single-process, so stop a running server
before backing up its data directory.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringP("output", "o", "", "Backup file (default: <data-dir>/dbfleet.db.backup)")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = filepath.Join(cfg.DataDir, "dbfleet.db.backup")
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	written, err := store.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
		return fmt.Errorf("failed to create backup: %w", err)
	}

	counts, err := store.Counts()
	if err != nil {
		return err
	}
	buckets := make([]string, 0, len(counts))
	for name := range counts {
		buckets = append(buckets, name)
	}
	sort.Strings(buckets)

	fmt.Printf("✓ Backup created: %s (%d bytes)\n", output, written)
	for _, name := range buckets {
		fmt.Printf("  %-10s %d\n", name, counts[name])
	}
	return nil
}
