package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"handsync/internal/config"
	"handsync/internal/daemon"
	"handsync/internal/queue"
	"handsync/internal/remote"
	"handsync/internal/store"
	"handsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a single sync cycle against the remote endpoint.

The cycle pushes the local dataset, pulls the remote snapshot, merges it
(remote wins per tower), and drains any queued offline operations. With
no endpoint configured the cycle is a local no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[sync] ")
		cfg := loadConfig(logger)

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		o, err := buildOrchestrator(cfg, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		start := time.Now()
		res, err := o.SyncOnce(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderSuccess("✓"), time.Since(start).Round(time.Millisecond))
		if res.Pushed {
			fmt.Printf("   Pushed local dataset\n")
		}
		if res.PushQueued {
			fmt.Printf("   %s Push failed, queued for retry\n", ui.RenderError("!"))
		}
		if res.Merged {
			fmt.Printf("   Merged remote snapshot\n")
		}
		if res.Drained > 0 || res.Dropped > 0 || res.Deferred > 0 {
			fmt.Printf("   Queue: %d drained, %d dropped, %d deferred\n",
				res.Drained, res.Dropped, res.Deferred)
		}
	},
}

// buildOrchestrator wires store, queue, remote client, and notifier into
// an orchestrator per the loaded config.
func buildOrchestrator(cfg config.Config, st *store.Store, logger *log.Logger) (*daemon.Orchestrator, error) {
	endpoint, err := resolveEndpoint(cfg, st)
	if err != nil {
		return nil, err
	}

	qm := queue.New(st, logger)
	rc := remote.New(endpoint, cfg.RequestTimeout, logger)
	notifier := &daemon.LogNotifier{Logger: logger}

	return daemon.New(st, qm, rc, notifier, &daemon.Config{
		PollInterval:       cfg.PollInterval,
		StalenessThreshold: cfg.StalenessThreshold,
		ProbeInterval:      cfg.ProbeInterval,
		MaxRetries:         cfg.MaxRetries,
		Backoff:            daemon.PolicyFromConfig(cfg.Backoff),
		Logger:             logger,
	})
}

// resolveEndpoint picks the remote endpoint: the config file wins, then
// the endpoint saved in the local database, then none (local-only mode).
func resolveEndpoint(cfg config.Config, st *store.Store) (string, error) {
	if cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}
	saved, err := st.Endpoint()
	if err != nil {
		return "", fmt.Errorf("failed to read saved endpoint: %w", err)
	}
	return saved, nil
}
