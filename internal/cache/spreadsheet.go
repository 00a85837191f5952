package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/tealeg/xlsx/v2"
)

// maxSpreadsheetRows caps how many rows are read from a workbook; a
// holdings table past this size is a mis-exported file, not an ETF.
const maxSpreadsheetRows = 50000

// manualUploadExtensions are the file types accepted in the manual-upload
// tier, in the order SaveManualUpload validates them.
var manualUploadExtensions = []string{".csv", ".xlsx", ".xls"}

func isManualUploadFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range manualUploadExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// readHoldingsFile dispatches on the file extension so the manual-upload
// tier handles all three formats. The local and community tiers store and
// read CSV only.
func readHoldingsFile(path string) (RawHoldings, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".xls":
		return readXLS(path)
	default:
		return readCSV(path)
	}
}

func readXLSX(path string) (RawHoldings, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return RawHoldings{}, fmt.Errorf("open xlsx %s: %w", path, err)
	}
	for _, sheet := range file.Sheets {
		grid := make([][]string, 0, len(sheet.Rows))
		for i, row := range sheet.Rows {
			if i >= maxSpreadsheetRows {
				break
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			grid = append(grid, cells)
		}
		if holdings, ok := fromGrid(grid); ok {
			return holdings, nil
		}
	}
	return RawHoldings{}, fmt.Errorf("xlsx %s has no usable holdings sheet", path)
}

func readXLS(path string) (RawHoldings, error) {
	workbook, err := xls.Open(path, "utf-8")
	if err != nil {
		return RawHoldings{}, fmt.Errorf("open xls %s: %w", path, err)
	}
	grid := workbook.ReadAllCells(maxSpreadsheetRows)
	holdings, ok := fromGrid(grid)
	if !ok {
		return RawHoldings{}, fmt.Errorf("xls %s has no usable holdings sheet", path)
	}
	return holdings, nil
}

// fromGrid converts a raw cell grid into a RawHoldings table. The first
// row with at least two non-blank cells is the header; everything above it
// (issuer banners, export timestamps) is skipped.
func fromGrid(grid [][]string) (RawHoldings, bool) {
	headerIdx := -1
	for i, row := range grid {
		if countNonBlank(row) >= 2 {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 || headerIdx == len(grid)-1 {
		return RawHoldings{}, false
	}

	header := make([]string, 0, len(grid[headerIdx]))
	for _, cell := range grid[headerIdx] {
		header = append(header, strings.TrimSpace(cell))
	}

	var rows []map[string]string
	for _, raw := range grid[headerIdx+1:] {
		if countNonBlank(raw) == 0 {
			continue
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(raw) {
				row[col] = raw[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return RawHoldings{}, false
	}
	return RawHoldings{Columns: header, Rows: rows}, true
}

func countNonBlank(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}
