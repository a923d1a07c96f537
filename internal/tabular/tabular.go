// Package tabular is the in-memory tabular representation shared by schema
// extraction and the sandbox file builtins. Cells are kept as strings, the
// way both CSV and formatted spreadsheet reads surface them, so a no-op
// transform preserves values exactly.
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is one named grid of cells. Rows includes the header row.
type Sheet struct {
	Name string
	Rows [][]string
}

// Workbook is an ordered set of sheets. A CSV file is a one-sheet workbook.
type Workbook struct {
	Sheets []Sheet
}

// SupportedExt reports whether the file extension is a readable input.
func SupportedExt(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}

// ReadWorkbook loads a workbook from disk, dispatching on extension.
func ReadWorkbook(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
}

// WriteWorkbook writes a workbook to disk, dispatching on extension.
// Writing a multi-sheet workbook to CSV is an error.
func WriteWorkbook(path string, wb *Workbook) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, wb)
	case ".csv":
		if len(wb.Sheets) != 1 {
			return fmt.Errorf("csv output supports exactly one sheet, got %d", len(wb.Sheets))
		}
		return writeCSV(path, wb.Sheets[0].Rows)
	default:
		return fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
}

func readXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var wb Workbook
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, Sheet{Name: name, Rows: padRows(rows)})
	}
	return &wb, nil
}

// padRows right-pads ragged rows to the sheet's widest row, so generated code
// can index columns uniformly.
func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i] = r
	}
	return rows
}

func writeXLSX(path string, wb *Workbook) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range wb.Sheets {
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			f.SetSheetName(f.GetSheetName(0), name)
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return fmt.Errorf("failed to create sheet %q: %w", name, err)
			}
		}
		for r, row := range sheet.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				return fmt.Errorf("failed to write row %d of %q: %w", r+1, name, err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func readCSV(path string) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Workbook{Sheets: []Sheet{{Name: name, Rows: padRows(rows)}}}, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	w.Flush()
	return w.Error()
}
