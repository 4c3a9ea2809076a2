package scrape

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-extractor/internal/model"
)

// EventbriteDomain is the registry key for Eventbrite pages.
const EventbriteDomain = "eventbrite"

// canonicalTime matches the date validator's output format.
const canonicalTime = "January 02, 2006, 03:04 PM"

// Eventbrite reads event details from Eventbrite's page markup. Its output
// follows the default schema: name, start, end, location, description and
// organizer.
type Eventbrite struct {
	fetcher Fetcher
}

// NewEventbrite creates the Eventbrite capability.
func NewEventbrite(f Fetcher) *Eventbrite {
	return &Eventbrite{fetcher: f}
}

// Domain implements Capability.
func (e *Eventbrite) Domain() string { return EventbriteDomain }

// Fields implements FieldDeclarer.
func (e *Eventbrite) Fields() []string { return model.DefaultFieldSchema().Names() }

// Extract implements Capability.
func (e *Eventbrite) Extract(ctx context.Context, rawURL string) ([]string, error) {
	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "eventbrite: fetch")
	}
	return ParseEventbrite(page.HTML)
}

// ParseEventbrite extracts the event fields from an Eventbrite page.
func ParseEventbrite(html []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "eventbrite: parse html")
	}

	title := strings.TrimSpace(doc.Find("h1.event-title").First().Text())
	if title == "" {
		return nil, eris.New("eventbrite: missing event title")
	}

	start, err := metaTime(doc, "event:start_time")
	if err != nil {
		return nil, err
	}
	end, err := metaTime(doc, "event:end_time")
	if err != nil {
		return nil, err
	}

	locSel := doc.Find(`meta[name="twitter:data1"]`).First()
	location, ok := locSel.Attr("value")
	if !ok {
		location, ok = locSel.Attr("content")
	}
	if !ok {
		return nil, eris.New("eventbrite: missing location")
	}

	descSel := doc.Find("div.has-user-generated-content").First()
	if descSel.Length() == 0 {
		return nil, eris.New("eventbrite: missing description")
	}

	organizer, ok := doc.Find("a.descriptive-organizer-info__name-link").First().Attr("href")
	if !ok {
		return nil, eris.New("eventbrite: missing organizer link")
	}

	return []string{
		title,
		start,
		end,
		strings.TrimSpace(location),
		strings.TrimSpace(descSel.Text()),
		organizer,
	}, nil
}

// metaTime reads an ISO-8601 meta property and renders it in the page's own
// offset.
func metaTime(doc *goquery.Document, property string) (string, error) {
	content, ok := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	if !ok {
		return "", eris.Errorf("eventbrite: missing %s", property)
	}
	content = strings.TrimSpace(content)
	t, err := time.Parse(time.RFC3339, content)
	if err != nil {
		var localErr error
		if t, localErr = time.Parse("2006-01-02T15:04:05", content); localErr != nil {
			return "", eris.Wrapf(err, "eventbrite: parse %s", property)
		}
	}
	return t.Format(canonicalTime), nil
}
