// Package export renders the handover dataset in caller-facing formats:
// pretty JSON, a fixed-schema CSV, an XLSX workbook, and YAML.
//
// Output ordering is deterministic (sorted towers, then sorted flats) so
// repeated exports of the same dataset are byte-identical.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"handsync/internal/handover"
)

// Format names an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatYAML Format = "yaml"
)

// UnsupportedFormatError reports an export format request the package does
// not recognize.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format %q", e.Format)
}

// Export writes the dataset to w in the requested format.
// The input is not mutated: shape completion happens on a copy.
func Export(w io.Writer, ds handover.Dataset, format Format) error {
	ds = ds.Clone()
	ds.Normalize()
	switch format {
	case FormatJSON:
		return writeJSON(w, ds)
	case FormatCSV:
		return writeCSV(w, ds)
	case FormatXLSX:
		return writeXLSX(w, ds)
	case FormatYAML:
		return writeYAML(w, ds)
	default:
		return &UnsupportedFormatError{Format: string(format)}
	}
}

func writeJSON(w io.Writer, ds handover.Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("failed to encode JSON export: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, ds handover.Dataset) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("failed to encode YAML export: %w", err)
	}
	return nil
}

// csvHeader is the fixed 7-column CSV schema: tower, flat, then one yes/no
// flag per stage in canonical order.
var csvHeader = []string{"Tower", "Flat", "KeyHandover", "Snagging", "FirstVisit", "Handover", "MoveIn"}

func writeCSV(w io.Writer, ds handover.Dataset) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, towerID := range ds.SortedTowerIDs() {
		tower := ds.Towers[towerID]
		for _, flatID := range tower.SortedFlatIDs() {
			rec := tower.Flats[flatID]
			row := []string{towerID, flatID}
			for _, stage := range handover.Stages() {
				row = append(row, yesNo(rec[stage]))
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV export: %w", err)
	}
	return nil
}

func yesNo(s *handover.StageStatus) string {
	if s != nil && s.Completed {
		return "yes"
	}
	return "no"
}

// xlsxHeader: tower, flat, one date column per stage, plus last-updated.
var xlsxHeader = []string{
	"Tower", "Flat",
	"Key Handover", "Snagging", "First Visit", "Handover", "Move In",
	"Last Updated",
}

func writeXLSX(w io.Writer, ds handover.Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Handover"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name worksheet: %w", err)
	}

	for col, title := range xlsxHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	rowNum := 2
	for _, towerID := range ds.SortedTowerIDs() {
		tower := ds.Towers[towerID]
		for _, flatID := range tower.SortedFlatIDs() {
			values := []string{towerID, flatID}
			lastUpdated := ""
			for _, stage := range handover.Stages() {
				date := ""
				if s := rec(tower, flatID)[stage]; s != nil {
					date = s.Date
					// ISO-8601 strings compare chronologically.
					if s.Date > lastUpdated {
						lastUpdated = s.Date
					}
				}
				values = append(values, date)
			}
			values = append(values, lastUpdated)

			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
				if err != nil {
					return fmt.Errorf("failed to compute cell: %w", err)
				}
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return fmt.Errorf("failed to write cell: %w", err)
				}
			}
			rowNum++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func rec(t *handover.Tower, flatID string) handover.UnitRecord {
	return t.Flats[flatID]
}
