package output

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/model"
)

// Clean returns a copy of t with failure-marked rows, the Source CSV column
// and empty columns removed. If a non-empty Relevance column is present,
// rows rated below minRelevance (or "false") are dropped; the Relevance
// column itself is always removed. Cleaning a cleaned table is a no-op.
func Clean(t *Table, minRelevance int) *Table {
	out := &Table{Header: append([]string{}, t.Header...)}
	for _, row := range t.Rows {
		if len(row) > 0 && model.IsErrorMarked(row[0]) {
			continue
		}
		out.Rows = append(out.Rows, append([]string{}, row...))
	}
	dropped := len(t.Rows) - len(out.Rows)

	if i := out.Column(model.ColumnSourceCSV); i >= 0 {
		out.dropColumn(i)
	}

	if rel := out.Column(ColumnRelevance); rel >= 0 {
		if !emptyColumn(out, rel) {
			kept := out.Rows[:0]
			for _, row := range out.Rows {
				if Relevant(row[rel], minRelevance) {
					kept = append(kept, row)
				}
			}
			dropped += len(out.Rows) - len(kept)
			out.Rows = kept
		}
		out.dropColumn(rel)
	}

	// With no rows left every column is empty; keep the header.
	if len(out.Rows) > 0 {
		for i := len(out.Header) - 1; i >= 0; i-- {
			if emptyColumn(out, i) {
				out.dropColumn(i)
			}
		}
	}

	zap.L().Info("output: cleaned table",
		zap.Int("rows_in", len(t.Rows)),
		zap.Int("rows_out", len(out.Rows)),
		zap.Int("dropped", dropped),
	)
	return out
}

// Relevant reports whether a Relevance cell keeps its row. "false" and
// numeric ratings below minRating drop the row; anything else is kept.
func Relevant(v string, minRating int) bool {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "false") {
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n >= minRating
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f >= float64(minRating)
	}
	return true
}

func emptyColumn(t *Table, i int) bool {
	for _, row := range t.Rows {
		if strings.TrimSpace(row[i]) != "" {
			return false
		}
	}
	return true
}

// CleanFile reads rawPath, cleans it and writes the Cleaned_ artifact next
// to it. It returns the cleaned path and row count.
func CleanFile(rawPath string, minRelevance int) (string, int, error) {
	t, err := ReadCSV(rawPath)
	if err != nil {
		return "", 0, err
	}
	cleaned := Clean(t, minRelevance)
	path := CleanedPath(rawPath)
	if err := WriteCSV(path, cleaned); err != nil {
		return "", 0, err
	}
	return path, len(cleaned.Rows), nil
}
