// Package tabular streams and writes the CSV and XLSX tables exchanged by
// collection, ingestion and export.
package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Record is one data row keyed by the table header.
type Record struct {
	Number int // 1-based position among data rows
	Header []string
	Fields []string
	index  map[string]int
}

// Get returns the value of column name, empty when absent.
func (r Record) Get(name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// Has reports whether the header declares column name.
func (r Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// NewRecords builds records from an in-memory table.
func NewRecords(header []string, rows [][]string) []Record {
	idx := indexHeader(header)
	out := make([]Record, len(rows))
	for i, fields := range rows {
		out[i] = Record{Number: i + 1, Header: header, Fields: fields, index: idx}
	}
	return out
}

func indexHeader(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	return idx
}

// StreamCSV reads a headed CSV and sends data rows to a channel.
// Caller must consume the returned record channel. Both channels are
// closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		idx := indexHeader(header)

		for n := 1; ; n++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read row %d", n)
				return
			}
			for i := range fields {
				fields[i] = strings.TrimSpace(fields[i])
			}

			select {
			case recCh <- Record{Number: n, Header: header, Fields: fields, index: idx}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// ReadXLSX reads the first sheet of an XLSX file. The first row is the header.
func ReadXLSX(path string) ([]Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("xlsx: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	header := rowToStrings(sheet.Rows[0])
	idx := indexHeader(header)

	out := make([]Record, 0, len(sheet.Rows)-1)
	for i, row := range sheet.Rows[1:] {
		out = append(out, Record{Number: i + 1, Header: header, Fields: rowToStrings(row), index: idx})
	}
	return out, nil
}

// ReadFile loads every record of a CSV or XLSX file, chosen by extension.
func ReadFile(ctx context.Context, path string) ([]Record, error) {
	if isXLSX(path) {
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	recCh, errCh := StreamCSV(ctx, f)
	var out []Record
	for rec := range recCh {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "tabular: read %s", path)
	}
	return out, nil
}

// WriteCSV writes a header and rows as CSV.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "csv: write rows")
	}
	return nil
}

// WriteXLSX writes a header and rows into a single-sheet workbook.
func WriteXLSX(path, sheetName string, header []string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	for _, values := range append([][]string{header}, rows...) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

// WriteFile writes a table to path, as XLSX when the extension says so.
func WriteFile(path string, header []string, rows [][]string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "tabular: create %s", dir)
		}
	}
	if isXLSX(path) {
		return WriteXLSX(path, "data", header, rows)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tabular: create %s", path)
	}
	if err := WriteCSV(f, header, rows); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "tabular: close %s", path)
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}
