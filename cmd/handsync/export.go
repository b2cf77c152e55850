package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"handsync/internal/export"
	"handsync/internal/ui"
)

var (
	exportFormat string
	exportOutput string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the local dataset",
		Long: `Export the local handover dataset to a file or stdout.

Supported formats: json, csv, xlsx, yaml. The xlsx export writes a
styled spreadsheet with one row per flat; csv writes one row per flat
with yes/no stage columns.`,
		Run: func(cmd *cobra.Command, args []string) {
			logger := newLogger("[export] ")
			cfg := loadConfig(logger)

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

			out := os.Stdout
			if exportOutput != "" {
				f, err := os.Create(exportOutput)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", exportOutput, err)
					os.Exit(1)
				}
				defer f.Close()
				out = f
			}

			if err := export.Export(out, ds, export.Format(exportFormat)); err != nil {
				var ufe *export.UnsupportedFormatError
				if errors.As(err, &ufe) {
					fmt.Fprintf(os.Stderr, "Error: %v (expected json, csv, xlsx, or yaml)\n", err)
				} else {
					fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
				}
				os.Exit(1)
			}

			if exportOutput != "" {
				fmt.Fprintf(os.Stderr, "%s Exported %d flats to %s\n",
					ui.RenderSuccess("✓"), ds.FlatCount(), exportOutput)
			}
		},
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json",
		"export format: json, csv, xlsx, yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"output file (default: stdout)")
}
