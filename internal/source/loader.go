// Package source loads event URL lists from tabular input files.
package source

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
)

// maxParallelFiles bounds concurrent file parsing.
const maxParallelFiles = 4

// KnownURLs reports which canonical URLs were already extracted by earlier runs.
type KnownURLs interface {
	KnownEventURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// Skipped is an input file rejected by the URL-column check.
type Skipped struct {
	Path string
	Err  error
}

// Result is the loaded URL list. Every record's Extra is index-aligned
// with Header.
type Result struct {
	Records    []model.URLRecord
	Header     []string
	Skipped    []Skipped
	Duplicates int
	Known      int
}

// Loader reads and merges input files.
type Loader struct {
	known KnownURLs
}

// NewLoader creates a Loader. A non-nil known drops URLs that earlier runs
// already extracted.
func NewLoader(known KnownURLs) *Loader {
	return &Loader{known: known}
}

type loadedFile struct {
	path    string
	tag     string
	table   *table
	columns []string
	skip    error
}

// Load reads paths with the given row limits (one per path, NoLimit for all
// rows). Files are parsed concurrently and merged in argument order;
// duplicate canonical URLs keep their first occurrence. A file whose first
// column is not entirely URLs is skipped and reported in Result.Skipped.
func (l *Loader) Load(ctx context.Context, paths []string, limits []int) (*Result, error) {
	if len(limits) != len(paths) {
		return nil, eris.Errorf("source: got %d row limits for %d files", len(limits), len(paths))
	}

	files := make([]*loadedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, path := range paths {
		g.Go(func() error {
			t, err := readTable(gctx, path, limits[i])
			if err != nil {
				return err
			}
			f := &loadedFile{path: path, tag: RegionTag(path), table: t, columns: columnNames(t.header)}
			f.skip = checkURLColumn(t)
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	index := make(map[string]int)
	for _, f := range files {
		if f.skip != nil {
			continue
		}
		for _, name := range f.columns[1:] {
			if _, ok := index[name]; ok || isReserved(name) {
				continue
			}
			index[name] = len(res.Header)
			res.Header = append(res.Header, name)
		}
	}
	extras := len(res.Header)
	res.Header = append(res.Header, model.ColumnCity, model.ColumnSourceCSV)

	seen := make(map[string]bool)
	for _, f := range files {
		if f.skip != nil {
			zap.L().Warn("source: skipping file", zap.String("file", f.path), zap.Error(f.skip))
			res.Skipped = append(res.Skipped, Skipped{Path: f.path, Err: f.skip})
			continue
		}
		loaded := 0
		for _, row := range f.table.rows {
			u := Canonicalize(strings.TrimSpace(row[0]))
			if seen[u] {
				res.Duplicates++
				continue
			}
			seen[u] = true

			extra := make([]string, len(res.Header))
			for j := 1; j < len(row) && j < len(f.columns); j++ {
				if k, ok := index[f.columns[j]]; ok {
					extra[k] = row[j]
				}
			}
			extra[extras] = f.tag
			extra[extras+1] = f.path

			res.Records = append(res.Records, model.URLRecord{
				URL:        u,
				SourceFile: f.path,
				Tag:        f.tag,
				Extra:      extra,
			})
			loaded++
		}
		zap.L().Info("source: loaded file",
			zap.String("file", f.path),
			zap.String("tag", f.tag),
			zap.Int("rows", len(f.table.rows)),
			zap.Int("loaded", loaded),
		)
	}

	if l.known != nil && len(res.Records) > 0 {
		if err := l.dropKnown(ctx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (l *Loader) dropKnown(ctx context.Context, res *Result) error {
	urls := make([]string, len(res.Records))
	for i, r := range res.Records {
		urls[i] = r.URL
	}
	known, err := l.known.KnownEventURLs(ctx, urls)
	if err != nil {
		return eris.Wrap(err, "source: look up known urls")
	}
	kept := res.Records[:0]
	for _, r := range res.Records {
		if known[r.URL] {
			res.Known++
			continue
		}
		kept = append(kept, r)
	}
	res.Records = kept
	if res.Known > 0 {
		zap.L().Info("source: skipped previously extracted urls", zap.Int("count", res.Known))
	}
	return nil
}

func checkURLColumn(t *table) error {
	for i, row := range t.rows {
		v := ""
		if len(row) > 0 {
			v = strings.TrimSpace(row[0])
		}
		if !IsURL(v) {
			return resilience.Tag(resilience.KindInputSchema,
				eris.Errorf("source: row %d: first column is not a URL: %q", i+1, v))
		}
	}
	return nil
}

// columnNames names unnamed columns by position and suffixes repeated names.
func columnNames(header []string) []string {
	out := make([]string, len(header))
	counts := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		if n := counts[h]; n > 0 {
			counts[h]++
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			counts[h] = 1
		}
		out[i] = h
	}
	if len(out) == 0 {
		out = []string{"Unnamed: 0"}
	}
	return out
}

func isReserved(name string) bool {
	return name == model.ColumnCity || name == model.ColumnSourceCSV
}

// IsURL reports whether s has both a scheme and a host.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Canonicalize strips the query string and fragment from a URL.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// RegionTag derives the region tag from a file name: the text after the
// last underscore with the extension removed ("events_austin.csv" is
// "austin").
func RegionTag(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.LastIndex(base, "_"); i >= 0 {
		return base[i+1:]
	}
	return base
}
