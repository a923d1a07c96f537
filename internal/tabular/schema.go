package tabular

import (
	"strconv"
	"strings"
	"time"
)

// SheetSchema is the inferred shape of one sheet, embedded in codegen prompts.
type SheetSchema struct {
	Name       string              `json:"name"`
	Columns    []string            `json:"columns"`
	Types      map[string]string   `json:"types"`
	RowCount   int                 `json:"row_count"`
	SampleRows []map[string]string `json:"sample_rows"`
}

// FileSchema describes one uploaded file for the code generator.
type FileSchema struct {
	Filename string        `json:"filename"`
	Sheets   []SheetSchema `json:"sheets"`
}

const maxSampleRows = 8

// ExtractSchema infers column names, cell types and row counts from a loaded
// workbook. The first row of each sheet is treated as the header.
func ExtractSchema(filename string, wb *Workbook) *FileSchema {
	schema := &FileSchema{Filename: filename}
	for _, sheet := range wb.Sheets {
		ss := SheetSchema{
			Name:  sheet.Name,
			Types: make(map[string]string),
		}
		if len(sheet.Rows) > 0 {
			ss.Columns = append(ss.Columns, sheet.Rows[0]...)
			ss.RowCount = len(sheet.Rows) - 1
		}
		data := sheet.Rows
		if len(data) > 0 {
			data = data[1:]
		}
		for c, col := range ss.Columns {
			ss.Types[col] = inferColumnType(data, c)
		}
		for i, row := range data {
			if i >= maxSampleRows {
				break
			}
			sample := make(map[string]string, len(ss.Columns))
			for c, col := range ss.Columns {
				if c < len(row) {
					sample[col] = row[c]
				}
			}
			ss.SampleRows = append(ss.SampleRows, sample)
		}
		schema.Sheets = append(schema.Sheets, ss)
	}
	return schema
}

// inferColumnType reports "number", "date", "bool" or "string" by scanning
// non-empty cells of the column. Mixed content degrades to "string".
func inferColumnType(rows [][]string, col int) string {
	inferred := ""
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		t := cellType(cell)
		if inferred == "" {
			inferred = t
		} else if inferred != t {
			return "string"
		}
	}
	if inferred == "" {
		return "string"
	}
	return inferred
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC3339,
}

func cellType(cell string) string {
	if _, err := strconv.ParseFloat(cell, 64); err == nil {
		return "number"
	}
	switch strings.ToLower(cell) {
	case "true", "false":
		return "bool"
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, cell); err == nil {
			return "date"
		}
	}
	return "string"
}
