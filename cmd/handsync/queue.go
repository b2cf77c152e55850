package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"handsync/internal/queue"
	"handsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline operation queue",
	Long: `Manage the queue of operations deferred while offline.

Queued operations are retried on every sync cycle and dropped after the
configured retry bound.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[queue] ")
		cfg := loadConfig(logger)

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		items, err := queue.New(st, logger).List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		if len(items) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderDim("∅"))
			return
		}

		fmt.Printf("\n%s %d queued operation(s)\n\n", ui.RenderAccent("⏳"), len(items))
		for _, item := range items {
			fmt.Printf("%s  %-13s  retries %d/%d  enqueued %s\n",
				ui.RenderDim(item.ID[:8]), item.Op, item.RetryCount, cfg.MaxRetries,
				item.EnqueuedAt.Format(time.RFC3339))
		}
		fmt.Println()
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all queued operations",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[queue] ")
		cfg := loadConfig(logger)

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		qm := queue.New(st, logger)
		n, err := qm.Len()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}
		if err := qm.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing queue: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Cleared %d queued operation(s)\n", ui.RenderSuccess("✓"), n)
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}
