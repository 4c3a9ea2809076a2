package source

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

// table is one parsed input file: its header row and up to limit data rows.
type table struct {
	header []string
	rows   [][]string
}

// readTable parses a .csv or .xlsx file. limit < 0 reads every row.
func readTable(ctx context.Context, path string, limit int) (*table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(ctx, path, limit)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := readCSV(ctx, f, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	return t, nil
}

func readCSV(ctx context.Context, r io.Reader, limit int) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow ragged rows
	reader.LazyQuotes = true

	t := &table{}
	first := true
	for limit < 0 || len(t.rows) < limit {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		if first {
			first = false
			if len(record) > 0 {
				record[0] = strings.TrimPrefix(record[0], "\ufeff")
			}
			t.header = record
			continue
		}
		t.rows = append(t.rows, record)
	}
	if first {
		return nil, eris.New("csv: missing header row")
	}
	return t, nil
}

func readXLSX(ctx context.Context, path string, limit int) (*table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open file %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("xlsx: %s has no sheets", path)
	}

	t := &table{}
	first := true
	for _, row := range f.Sheets[0].Rows {
		if limit >= 0 && len(t.rows) >= limit {
			break
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}

		cells := rowToStrings(row)
		if first {
			first = false
			t.header = cells
			continue
		}
		if blank(cells) {
			continue
		}
		t.rows = append(t.rows, cells)
	}
	if first {
		return nil, eris.Errorf("xlsx: %s: missing header row", path)
	}
	return t, nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
