package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"handsync/internal/queue"
	"handsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local dataset and sync status",
	Long: `Display the current status of the local handover database.

Shows:
  - Database location and size
  - Towers and flats tracked
  - Offline queue depth
  - Last sync and last import times
  - Configured endpoint`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[status] ")
		cfg := loadConfig(logger)

		info, err := os.Stat(cfg.DBPath())
		if os.IsNotExist(err) {
			fmt.Printf("\n%s No local database yet\n", ui.RenderDim("∅"))
			fmt.Printf("   Run 'handsync sync' or 'handsync import' to create it\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking database: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ds, err := st.ReadDataset()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading dataset: %v\n", err)
			os.Exit(1)
		}
		md, err := st.ReadMetadata()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading metadata: %v\n", err)
			os.Exit(1)
		}
		qlen, err := queue.New(st, logger).Len()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}
		endpoint, err := resolveEndpoint(cfg, st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\n%s Handsync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s (%s)\n", cfg.DBPath(), sizeStr)
		fmt.Printf("Towers: %d\n", len(ds.SortedTowerIDs()))
		fmt.Printf("Flats: %d\n", ds.FlatCount())
		fmt.Printf("Queued operations: %d\n", qlen)
		fmt.Printf("Endpoint: %s\n", displayEndpoint(endpoint))
		if md.LastSync.IsZero() {
			fmt.Printf("Last sync: %s\n", ui.RenderDim("never"))
		} else {
			fmt.Printf("Last sync: %s\n", md.LastSync.Format("2006-01-02 15:04:05"))
		}
		if md.LastImport.IsZero() {
			fmt.Printf("Last import: %s\n", ui.RenderDim("never"))
		} else {
			fmt.Printf("Last import: %s\n", md.LastImport.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}
