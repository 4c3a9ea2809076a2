package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var (
	cloudflareMarkers = [][]byte{[]byte("checking your browser"), []byte("cf-browser-verification")}
	captchaMarkers    = [][]byte{[]byte("captcha")}
)

// DetectBlock reports whether a response looks like an anti-bot interstitial
// rather than the event page. Blocked pages are still handed to the
// extractor; the result feeds logging and metrics.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}
	if resp.StatusCode == http.StatusForbidden &&
		(resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare") {
		return BlockCloudflare
	}

	lower := bytes.ToLower(body)
	for _, m := range cloudflareMarkers {
		if bytes.Contains(lower, m) {
			return BlockCloudflare
		}
	}
	for _, m := range captchaMarkers {
		if bytes.Contains(lower, m) {
			return BlockCaptcha
		}
	}
	if len(body) < 2000 && bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
		return BlockJSShell
	}
	return BlockNone
}
