package source

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// NoLimit reads every row of a file.
const NoLimit = -1

// ParseRowLimits resolves row-limit specs against n files. Each spec is a
// non-negative integer or "MAX". No specs means MAX for every file, one spec
// applies to all files, otherwise there must be exactly one spec per file.
func ParseRowLimits(specs []string, n int) ([]int, error) {
	parsed := make([]int, len(specs))
	for i, s := range specs {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "MAX") {
			parsed[i] = NoLimit
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, eris.Errorf("source: invalid row limit %q: must be a non-negative integer or MAX", s)
		}
		parsed[i] = v
	}

	out := make([]int, n)
	switch {
	case len(parsed) == 0:
		for i := range out {
			out[i] = NoLimit
		}
	case len(parsed) == 1:
		for i := range out {
			out[i] = parsed[0]
		}
	case len(parsed) == n:
		copy(out, parsed)
	default:
		return nil, eris.Errorf("source: got %d row limits for %d files", len(parsed), n)
	}
	return out, nil
}
