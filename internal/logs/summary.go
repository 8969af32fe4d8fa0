package logs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

type sheetSource struct {
	name    string
	csvPath string
}

// ExportSummary rebuilds the summary workbook from an existing log
// directory: every CSV whose name contains the prefix and all extra
// tokens lands on the sheet its kind implies. Used by the export script
// when a run ended without writing its workbook.
func ExportSummary(dir, prefix string, tokens ...string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading log dir: %w", err)
	}

	var sheets []sheetSource
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") || !strings.Contains(name, prefix) {
			continue
		}
		if !containsAll(name, tokens) {
			continue
		}
		sheets = append(sheets, sheetSource{
			name:    sheetNameFor(name),
			csvPath: filepath.Join(dir, name),
		})
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("no csv artifacts under %s match prefix %q", dir, prefix)
	}

	out := filepath.Join(dir, fmt.Sprintf("%s_summary_rebuilt.xlsx", prefix))
	if err := writeWorkbook(out, sheets); err != nil {
		return "", err
	}
	return out, nil
}

// writeWorkbook copies each CSV onto its own sheet. Empty CSVs still get
// a sheet so the workbook shape is stable across runs.
func writeWorkbook(path string, sheets []sheetSource) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	for _, src := range sheets {
		if _, err := book.NewSheet(src.name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", src.name, err)
		}
		rows, err := readCSV(src.csvPath)
		if err != nil {
			return err
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return fmt.Errorf("addressing row %d: %w", i+1, err)
			}
			if err := book.SetSheetRow(src.name, cell, &row); err != nil {
				return fmt.Errorf("writing sheet %s row %d: %w", src.name, i+1, err)
			}
		}
	}
	// Drop the default sheet excelize seeds new files with.
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("dropping default sheet: %w", err)
	}
	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from the run's own sinks
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

func containsAll(name string, tokens []string) bool {
	for _, token := range tokens {
		if !strings.Contains(name, token) {
			return false
		}
	}
	return true
}

// sheetNameFor maps a CSV file name to its workbook sheet by kind
// substring, falling back to the bare file name.
func sheetNameFor(file string) string {
	for _, kind := range kinds {
		if strings.Contains(file, "_"+string(kind)+"_") {
			return string(kind)
		}
	}
	return strings.TrimSuffix(filepath.Base(file), ".csv")
}
