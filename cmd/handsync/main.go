// Command handsync keeps a local handover dataset in sync with a remote
// spreadsheet-backed store.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"handsync/internal/config"
	"handsync/internal/store"
)

var (
	// configPath is the --config flag, empty for the default location.
	configPath string

	rootCmd = &cobra.Command{
		Use:   "handsync",
		Short: "Offline-first sync for construction handover data",
		Long: `handsync keeps a local handover dataset (towers, flats, handover
stages) in sync with a remote spreadsheet-backed web app.

All commands work against the local database and never require
connectivity. Pushes that fail while offline are queued and retried on
the next sync cycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: ~/.handsync/config.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file named by --config or the default path.
func loadConfig(logger *log.Logger) config.Config {
	return config.Load(configPath, logger)
}

// openStore opens the local database for the given config.
func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath())
}

// newLogger builds a prefixed stderr logger for CLI commands.
func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
