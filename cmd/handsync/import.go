package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"handsync/internal/merge"
	"handsync/internal/sheet"
	"handsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <sheet-url>",
	Short: "Import handover rows from a Google Sheet",
	Long: `Import key-handover rows from a published Google Sheet.

The sheet ID is extracted from the URL, the sheet is fetched via the
gviz endpoint, and rows of the form (tower, flat, date, actor) are
merged into the local dataset. Imported rows win over existing local
records for the flats they name; everything else is preserved.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[import] ")
		cfg := loadConfig(logger)

		sheetID, err := sheet.ExtractSheetID(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		fmt.Printf("%s Fetching sheet %s...\n", ui.RenderAccent("⬇"), sheetID)
		payload, err := sheet.NewFetcher(cfg.RequestTimeout).Fetch(cmd.Context(), sheetID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching sheet: %v\n", err)
			os.Exit(1)
		}

		rows, err := sheet.ParseGviz(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing sheet: %v\n", err)
			os.Exit(1)
		}

		imported := sheet.DatasetFromRows(rows)

		existing, err := st.ReadDataset()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading dataset: %v\n", err)
			os.Exit(1)
		}

		merged := merge.MergeImported(existing, imported)
		if err := st.WriteDataset(merged); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing dataset: %v\n", err)
			os.Exit(1)
		}

		md, err := st.ReadMetadata()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading metadata: %v\n", err)
			os.Exit(1)
		}
		md.LastImport = time.Now()
		if err := st.WriteMetadata(md); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing metadata: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Imported %d rows (%d flats tracked)\n",
			ui.RenderSuccess("✓"), len(rows), merged.FlatCount())
		fmt.Printf("   Run 'handsync sync' to push the merged dataset\n")
	},
}
