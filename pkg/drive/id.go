// Package drive recognises cloud-storage sharing links and builds the download endpoints for them.
package drive

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/folioworks/asset-sync/pkg/utils"
)

// Patterns are tried in order. A path-style identifier wins over a query parameter.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`),
}

// ExtractFileID returns the storage identifier embedded in a sharing link.
// Links that match no pattern (including local paths written by previous runs) return ErrNotAMediaLink.
func ExtractFileID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", utils.ErrNotAMediaLink
	}
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", utils.ErrNotAMediaLink
}

// IsMediaLink reports whether ExtractFileID would succeed
func IsMediaLink(link string) bool {
	_, err := ExtractFileID(link)
	return err == nil
}

// DownloadURL builds the direct download request for a file id
func DownloadURL(base, fileID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", utils.WrapErrorf(utils.ErrRequestCreation, "parse download base '%s'", base)
	}
	q := u.Query()
	q.Set("export", "download")
	q.Set("id", fileID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ConfirmURL builds the confirmed download request used after a virus-scan interstitial
func ConfirmURL(base, fileID string, tokens Tokens) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", utils.WrapErrorf(utils.ErrRequestCreation, "parse confirm base '%s'", base)
	}
	q := u.Query()
	q.Set("id", fileID)
	q.Set("export", "download")
	q.Set("confirm", tokens.Confirm)
	q.Set("uuid", tokens.UUID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Tokens are the confirmation values scraped from a virus-scan interstitial page
type Tokens struct {
	Confirm string
	UUID    string
}

// Complete reports whether both tokens were found
func (t Tokens) Complete() bool {
	return t.Confirm != "" && t.UUID != ""
}
