package output

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/event-extractor/internal/model"
)

// Assemble builds the raw output table. Columns are the schema fields,
// Event URL, Relevance, numbered ExtraN columns for surplus model output,
// then the passthrough columns.
func Assemble(schema *model.FieldSchema, records []model.EventRecord, passthrough []string) *Table {
	n := schema.Len()
	extras := 0
	for _, r := range records {
		extras = max(extras, len(r.Fields)-n)
	}

	header := append([]string{}, schema.Names()...)
	header = append(header, ColumnEventURL, ColumnRelevance)
	for i := range extras {
		header = append(header, fmt.Sprintf("Extra%d", i+1))
	}
	header = append(header, passthrough...)

	t := &Table{Header: header}
	for _, r := range records {
		row := make([]string, 0, len(header))
		row = append(row, pad(r.Fields, n)...)
		row = append(row, r.SourceURL, r.Relevance)
		if len(r.Fields) > n {
			row = append(row, pad(r.Fields[n:], extras)...)
		} else {
			row = append(row, make([]string, extras)...)
		}
		row = append(row, pad(r.Origin.Extra, len(passthrough))...)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ApplyRatedSources forces Relevance to True for rows whose Source CSV does
// not contain any of keys. Only sources named by keys are actually rated.
// Rows with no Source CSV value are left alone.
func ApplyRatedSources(t *Table, keys []string) {
	src, rel := t.Column(model.ColumnSourceCSV), t.Column(ColumnRelevance)
	if src < 0 || rel < 0 {
		return
	}
	for _, row := range t.Rows {
		v := strings.ToLower(row[src])
		if v == "" {
			continue
		}
		rated := false
		for _, k := range keys {
			if k != "" && strings.Contains(v, strings.ToLower(k)) {
				rated = true
				break
			}
		}
		if !rated {
			row[rel] = "True"
		}
	}
}

// FileName returns "<tag>_events_<YYYY_MM_DD_HH_MM_SS>.csv" with the tag
// reduced to letters, digits, '_' and '-'.
func FileName(tag string, now time.Time) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return -1
	}, tag)
	if clean == "" {
		clean = "run"
	}
	return clean + "_events_" + now.Format("2006_01_02_15_04_05") + ".csv"
}

// CleanedPath returns the cleaned artifact path next to a raw file.
func CleanedPath(rawPath string) string {
	return filepath.Join(filepath.Dir(rawPath), "Cleaned_"+filepath.Base(rawPath))
}
