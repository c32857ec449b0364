package fetch

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/folioworks/asset-sync/pkg/drive"
)

// TokenExtractor pulls the confirmation tokens out of a virus-scan interstitial page.
// The engine only depends on this interface so the scraping heuristic can change freely.
type TokenExtractor interface {
	TryExtract(page []byte) (drive.Tokens, bool)
}

// Markers the provider puts on its "cannot scan for viruses" confirmation page (lowercase)
var virusScanMarkers = []string{
	"virus scan warning",
	"can't scan this file for viruses",
	"cannot scan this file for viruses",
	"id=\"download-form\"",
	"download anyway",
}

// IsVirusScanPage reports whether an HTML body is the provider's virus-scan interstitial
func IsVirusScanPage(page []byte) bool {
	lower := strings.ToLower(string(page))
	for _, m := range virusScanMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// HTMLTokenExtractor reads the hidden form inputs with goquery and falls back to
// attribute regexes when the markup does not parse into the expected form.
type HTMLTokenExtractor struct{}

var (
	// The attribute value must end right after the name, so "confirmation" or "uuid2" never match
	confirmInputRe = regexp.MustCompile(`name=(?:["']confirm["']|confirm[\s/])[^>]*?value=["']?([A-Za-z0-9_-]+)`)
	uuidInputRe    = regexp.MustCompile(`name=(?:["']uuid["']|uuid[\s/])[^>]*?value=["']?([A-Za-z0-9_-]+)`)
	confirmQueryRe = regexp.MustCompile(`[?&;]confirm=([A-Za-z0-9_-]+)`)
	uuidQueryRe    = regexp.MustCompile(`[?&;]uuid=([A-Za-z0-9_-]+)`)
)

// TryExtract returns the tokens and true only when both were found
func (HTMLTokenExtractor) TryExtract(page []byte) (drive.Tokens, bool) {
	var t drive.Tokens

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		t.Confirm = strings.TrimSpace(doc.Find(`input[name="confirm"]`).First().AttrOr("value", ""))
		t.UUID = strings.TrimSpace(doc.Find(`input[name="uuid"]`).First().AttrOr("value", ""))
		if t.Confirm == "" || t.UUID == "" {
			// Some variants carry the tokens in the download link instead of the form
			doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				href, _ := s.Attr("href")
				if t.Confirm == "" {
					t.Confirm = firstGroup(confirmQueryRe, href)
				}
				if t.UUID == "" {
					t.UUID = firstGroup(uuidQueryRe, href)
				}
				return !t.Complete()
			})
		}
	}

	if t.Confirm == "" {
		t.Confirm = firstGroup(confirmInputRe, string(page))
	}
	if t.UUID == "" {
		t.UUID = firstGroup(uuidInputRe, string(page))
	}
	return t, t.Complete()
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
