package scanner

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Matches absolute http(s) URLs and root-relative paths embedded anywhere in
// a response body: JSON strings, JS bundles, plain text.
var reCandidate = regexp.MustCompile(`(?:https?://[^\s"'<>\\]+)|(?:/[^\s"'<>\\]+)`)

// candidateAt rejects regex matches that are fragments of surrounding text
// rather than paths: closing tags (</a>), scheme separators (https:/...) and
// path tails split off a longer token (api/v1).
func candidateAt(body string, start int) bool {
	if start == 0 || body[start] != '/' {
		return true
	}
	prev := body[start-1]
	if prev == '<' || prev == ':' || prev == '/' {
		return false
	}
	return !isWordByte(prev)
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// Static-asset extensions that expand the inventory without expanding the
// attack surface.
var noiseExtensions = []string{
	".css", ".js", ".mjs", ".map",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".avif",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".mp4", ".webm", ".mp3", ".pdf",
}

// ExtractURLs returns the same-host endpoint candidates found in a response
// body, resolved absolute, deduplicated, and sorted. Cross-host references
// are dropped here; scope enforcement against the authorized-domain set
// happens in the scheduler on top of this.
func ExtractURLs(baseURL, body string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Hostname() == "" {
		return nil
	}

	seen := make(map[string]struct{})

	for _, loc := range reCandidate.FindAllStringIndex(body, -1) {
		if candidateAt(body, loc[0]) {
			admitCandidate(base, body[loc[0]:loc[1]], seen)
		}
	}

	// HTML gets a structured pass too: attribute values survive markup that
	// the regex would glue together.
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find("[href], [src], form[action]").Each(func(_ int, sel *goquery.Selection) {
			for _, attr := range []string{"href", "src", "action"} {
				if v, ok := sel.Attr(attr); ok {
					admitCandidate(base, v, seen)
				}
			}
		})
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func admitCandidate(base *url.URL, raw string, seen map[string]struct{}) {
	raw = strings.TrimRight(strings.TrimSpace(raw), `.,;:)]}`)
	if raw == "" || raw == "/" || strings.HasPrefix(raw, "//") {
		return
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	resolved := base.ResolveReference(ref)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return
	}
	if resolved.Hostname() != base.Hostname() {
		return
	}

	lowerPath := strings.ToLower(resolved.Path)
	for _, ext := range noiseExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return
		}
	}

	resolved.Fragment = ""
	seen[resolved.String()] = struct{}{}
}
