package validate

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-extractor/internal/resilience"
)

// CanonicalLayout is the single textual format datetime fields are rewritten to.
const CanonicalLayout = "January 02, 2006, 03:04 PM"

// layouts are tried before the natural-language parser. Go's numeric layout
// elements accept both padded and unpadded input.
var layouts = []string{
	"January 2, 2006, 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006, 15:04",
	"January 2, 2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

var (
	weekdayPrefix = regexp.MustCompile(`(?i)^(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)[a-z]*\.?,?\s+`)
	atSeparator   = regexp.MustCompile(`(?i)\s+at\s+`)
	meridiem      = regexp.MustCompile(`(?i)(\d)\s*([ap])\.?m\.?(\s|,|$)`)
	spaces        = regexp.MustCompile(`\s+`)
)

// ParseDate parses a zone-less datetime string in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	clean := normalizeDate(s)
	if clean == "" {
		return time.Time{}, eris.New("validate: empty date")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, clean, loc); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(clean, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "validate: parse date %q", s)
	}
	return t, nil
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	s = weekdayPrefix.ReplaceAllString(s, "")
	s = atSeparator.ReplaceAllString(s, " ")
	s = meridiem.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiem.FindStringSubmatch(m)
		return sub[1] + " " + strings.ToUpper(sub[2]) + "M" + sub[3]
	})
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// DateValidator normalizes datetime fields and rejects past events.
type DateValidator struct {
	loc *time.Location
	now func() time.Time
}

// NewDateValidator interprets dates in loc. A nil loc means time.Local.
func NewDateValidator(loc *time.Location) *DateValidator {
	if loc == nil {
		loc = time.Local
	}
	return &DateValidator{loc: loc, now: time.Now}
}

// Check parses the fields at idx, fails on unparseable or past values, and on
// success rewrites each of them to CanonicalLayout. Fields are left untouched
// when any check fails.
func (v *DateValidator) Check(fields []string, idx []int) error {
	now := v.now().In(v.loc)
	parsed := make([]time.Time, len(idx))
	for i, pos := range idx {
		if pos < 0 || pos >= len(fields) {
			return resilience.Tag(resilience.KindDateParse, eris.Errorf("validate: no datetime field at %d", pos))
		}
		t, err := ParseDate(fields[pos], v.loc)
		if err != nil {
			return resilience.Tag(resilience.KindDateParse, err)
		}
		if !t.After(now) {
			return resilience.Tag(resilience.KindPastDate,
				eris.Errorf("validate: event date %s is in the past", t.Format(CanonicalLayout)))
		}
		parsed[i] = t
	}
	for i, pos := range idx {
		fields[pos] = parsed[i].Format(CanonicalLayout)
	}
	return nil
}
