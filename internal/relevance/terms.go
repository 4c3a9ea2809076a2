package relevance

import (
	"bufio"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// LoadTerms reads one term per line, skipping blanks and # comments.
func LoadTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "relevance: open terms %s", path)
	}
	defer f.Close() //nolint:errcheck

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t := strings.TrimSpace(sc.Text())
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		terms = append(terms, t)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "relevance: read terms %s", path)
	}
	if len(terms) == 0 {
		return nil, eris.Errorf("relevance: %s has no terms", path)
	}
	return terms, nil
}
