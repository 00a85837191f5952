package cache

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// RawHoldings is an ETF's constituent-holdings table exactly as read off
// disk: column order preserved, values unparsed. Normalization (decimal
// formats, column aliasing, percentage scaling) happens downstream in
// internal/normalize, not here.
type RawHoldings struct {
	Columns []string
	Rows    []map[string]string
}

// Len returns the number of holding rows.
func (r RawHoldings) Len() int {
	return len(r.Rows)
}

func readCSV(path string) (RawHoldings, error) {
	f, err := os.Open(path)
	if err != nil {
		return RawHoldings{}, err
	}
	defer f.Close()

	holdings, err := ParseCSV(f)
	if err != nil {
		return RawHoldings{}, fmt.Errorf("read csv %s: %w", path, err)
	}
	return holdings, nil
}

// ParseCSV reads a holdings table from an arbitrary reader, preserving
// column order. Exported so internal/provider's HTTP adapter can parse a
// downloaded response body without going through a file on disk.
func ParseCSV(r io.Reader) (RawHoldings, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return RawHoldings{}, fmt.Errorf("read csv header: %w", err)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RawHoldings{}, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return RawHoldings{Columns: header, Rows: rows}, nil
}

func writeCSV(path string, holdings RawHoldings) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(holdings.Columns); err != nil {
		f.Close()
		return err
	}
	for _, row := range holdings.Rows {
		record := make([]string, len(holdings.Columns))
		for i, col := range holdings.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
