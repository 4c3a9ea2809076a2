// Package output assembles extracted records into the raw and cleaned CSV
// artifacts.
package output

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Column names written by the assembler.
const (
	ColumnEventURL  = "Event URL"
	ColumnRelevance = "Relevance"
)

// Table is a header plus rows. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// dropColumn removes column i from the header and every row.
func (t *Table) dropColumn(i int) {
	t.Header = append(t.Header[:i:i], t.Header[i+1:]...)
	for r, row := range t.Rows {
		t.Rows[r] = append(row[:i:i], row[i+1:]...)
	}
}

// WriteCSV writes t to path, creating parent directories.
func WriteCSV(path string, t *Table) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "output: create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", path)
	}
	return writeTable(f, path, t)
}

// syncFile is the part of *os.File that writeTable needs.
type syncFile interface {
	io.Writer
	Sync() error
	Close() error
}

// writeTable writes t to f and closes it. A close error is reported when
// everything before it succeeded.
func writeTable(f syncFile, path string, t *Table) (err error) {
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "output: close %s", path)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return eris.Wrap(err, "output: write header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "output: write rows")
	}
	return eris.Wrapf(f.Sync(), "output: sync %s", path)
}

// ReadCSV reads a table written by WriteCSV. Short rows are padded to the
// header width.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "output: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("output: %s is empty", path)
	}

	t := &Table{Header: records[0]}
	for _, rec := range records[1:] {
		t.Rows = append(t.Rows, pad(rec, len(t.Header)))
	}
	return t, nil
}

func pad(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}
