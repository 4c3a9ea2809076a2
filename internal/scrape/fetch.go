package scrape

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/event-extractor/internal/resilience"
)

// Text extraction modes.
const (
	TextModeBody        = "body"
	TextModeReadability = "readability"
)

// Page is a fetched event page.
type Page struct {
	URL        string
	StatusCode int
	Title      string
	Text       string
	HTML       []byte
	Block      BlockType
}

// Fetcher retrieves a single page. One call is one attempt; callers own the
// retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// FetchOptions configures HTTPFetcher.
type FetchOptions struct {
	UserAgent    string
	Timeout      time.Duration
	TextMode     string
	MaxBodyBytes int64
}

// HTTPFetcher fetches pages with browser-like headers and reduces them to
// plain text for the extractor.
type HTTPFetcher struct {
	client *http.Client
	opts   FetchOptions
}

// NewHTTPFetcher creates an HTTPFetcher with sensible defaults.
func NewHTTPFetcher(opts FetchOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.TextMode == "" {
		opts.TextMode = TextModeBody
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
}

// Fetch performs one GET. Transport errors, 429 and 5xx responses are
// network failures; any other status is accepted as page content.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.Tag(resilience.KindNetwork, eris.Wrap(err, "fetch: create request"))
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.Tag(resilience.KindNetwork, eris.Wrapf(err, "fetch: get %s", rawURL))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, resilience.Tag(resilience.KindNetwork, resilience.NewTransientError(
			eris.Errorf("fetch: %s returned status %d", rawURL, resp.StatusCode), resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, resilience.Tag(resilience.KindNetwork, eris.Wrapf(err, "fetch: read body %s", rawURL))
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		zap.L().Debug("fetch: charset decode failed, using raw bytes",
			zap.String("url", rawURL), zap.Error(err))
		body = raw
	}

	page := &Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		HTML:       body,
		Block:      DetectBlock(resp, body),
	}
	if page.Block != BlockNone {
		zap.L().Warn("fetch: page looks blocked",
			zap.String("url", rawURL),
			zap.String("block", string(page.Block)),
			zap.Int("status", resp.StatusCode),
		)
	}

	page.Title, page.Text = f.extractText(rawURL, body)
	return page, nil
}

func (f *HTTPFetcher) extractText(rawURL string, body []byte) (string, string) {
	if f.opts.TextMode == TextModeReadability {
		if title, text, ok := readableText(rawURL, body); ok {
			return title, text
		}
	}
	return BodyText(body)
}

// BodyText returns the document title and the body's text nodes, each
// trimmed and joined by newlines. Script and style content is skipped.
func BodyText(body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	collectText(doc.Find("body"), &lines)
	return strings.TrimSpace(doc.Find("title").First().Text()), strings.Join(lines, "\n")
}

func collectText(s *goquery.Selection, out *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := strings.TrimSpace(c.Text()); t != "" {
				*out = append(*out, t)
			}
			return
		}
		collectText(c, out)
	})
}

func readableText(rawURL string, body []byte) (string, string, bool) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(body), parsedURL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return "", "", false
	}
	_, text := BodyText([]byte("<html><body>" + article.Content + "</body></html>"))
	if text == "" {
		return "", "", false
	}
	return article.Title, text, true
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?\s*([a-z0-9_\-:.]+)`)

// decodeBody converts body to UTF-8 using the Content-Type charset or, if
// absent, a <meta charset> declaration near the top of the document.
func decodeBody(body []byte, contentType string) ([]byte, error) {
	name := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			name = params["charset"]
		}
	}
	if name == "" {
		head := body
		if len(head) > 2048 {
			head = head[:2048]
		}
		if m := metaCharsetRe.FindSubmatch(head); len(m) > 1 {
			name = string(m[1])
		}
	}
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return body, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: unsupported charset %q", name)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: decode %s", name)
	}
	return out, nil
}
