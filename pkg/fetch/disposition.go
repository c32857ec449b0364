package fetch

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	dispositionFilenameStarRe = regexp.MustCompile(`(?i)filename\*\s*=\s*([^;]+)`)
	dispositionFilenameRe     = regexp.MustCompile(`(?i)filename\s*=\s*("([^"]*)"|[^;]+)`)
	extensionRe               = regexp.MustCompile(`^[a-z0-9]{1,8}$`)
)

// FilenameFromDisposition returns the filename a Content-Disposition header declares, or "".
// Strict RFC 6266 parsing is tried first; headers the mime package rejects (unquoted names
// with spaces, odd casing, stray semicolons) go through a permissive fallback.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return path.Base(strings.ReplaceAll(name, `\`, "/"))
		}
	}

	if m := dispositionFilenameStarRe.FindStringSubmatch(header); m != nil {
		v := strings.TrimSpace(m[1])
		// charset'lang'percent-encoded
		if i := strings.LastIndex(v, "'"); i >= 0 {
			v = v[i+1:]
		}
		if dec, err := url.PathUnescape(v); err == nil {
			v = dec
		}
		if v = strings.Trim(v, `"' `); v != "" {
			return path.Base(strings.ReplaceAll(v, `\`, "/"))
		}
	}
	if m := dispositionFilenameRe.FindStringSubmatch(header); m != nil {
		v := m[2]
		if v == "" {
			v = m[1]
		}
		if v = strings.Trim(strings.TrimSpace(v), `"'`); v != "" {
			return path.Base(strings.ReplaceAll(v, `\`, "/"))
		}
	}
	return ""
}

// ExtensionFromFilename returns the lowercased extension of name with a leading dot, or ""
// when it has none or it is not a plain short alphanumeric extension.
func ExtensionFromFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return ""
	}
	if !extensionRe.MatchString(ext[1:]) {
		return ""
	}
	return ext
}
