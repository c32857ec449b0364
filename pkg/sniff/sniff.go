// Package sniff classifies downloaded bytes as image, video or error page by their leading signature.
package sniff

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"

	"github.com/folioworks/asset-sync/pkg/utils"
)

const (
	// LargeBodyThreshold: bodies bigger than this with no recognised signature are assumed to be video
	LargeBodyThreshold = 1 * 1024 * 1024

	// BoxScanThreshold: bodies bigger than this are searched for container box names
	BoxScanThreshold = 10 * 1024

	// PageThreshold: only bodies smaller than this are treated as error pages
	PageThreshold = 5 * 1024

	// HeadSize is how many leading bytes Detect needs to make every decision
	HeadSize = 2 * 1024 * 1024

	boxScanWindow  = 100
	pageScanWindow = 1000
)

// Detection is the outcome of classifying a body
type Detection struct {
	Ext           string // Leading dot, e.g. ".png"
	Reason        string // Which rule matched, for logging
	LowConfidence bool   // Nothing matched and the last-resort guess was used
}

// mediaTypes maps library-detected MIME types to the extension we store. Video comes first
// so a container that also carries an image thumbnail is kept as video.
var mediaTypes = []struct {
	mime string
	ext  string
}{
	{"video/quicktime", ".mov"},
	{"video/mp4", ".mp4"},
	{"video/x-msvideo", ".avi"},
	{"video/webm", ".webm"},
	{"video/x-matroska", ".webm"},
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/gif", ".gif"},
	{"image/webp", ".webp"},
}

// Container brands whose files are QuickTime rather than MPEG-4
var quickTimeBrands = map[string]bool{
	"qt  ": true,
}

// Detect classifies buf, which should hold the start of the body (up to HeadSize bytes) and
// total, the full body length. Error pages return ErrClassification.
//
// Rules are evaluated in priority order, the first match wins: a known video or image type
// reported by mimetype, then looser signatures it does not accept (any ftyp brand, a bare AVI
// marker, EBML without a doctype, a two-byte JPEG SOI), size heuristic, box-name scan,
// short HTML page, then a low-confidence ".jpg".
func Detect(buf []byte, total int64) (Detection, error) {
	if d, ok := libraryMatch(buf); ok {
		return d, nil
	}
	if d, ok := looseMatch(buf); ok {
		return d, nil
	}

	if total > LargeBodyThreshold {
		return Detection{Ext: ".mp4", Reason: "large-unknown"}, nil
	}

	if total > BoxScanThreshold {
		window := buf
		if len(window) > boxScanWindow {
			window = window[:boxScanWindow]
		}
		for _, box := range [][]byte{[]byte("ftyp"), []byte("moov"), []byte("mdat")} {
			if bytes.Contains(window, box) {
				return Detection{Ext: ".mp4", Reason: "box-" + string(box)}, nil
			}
		}
	}

	if total < PageThreshold && containsPageMarker(buf) {
		return Detection{}, utils.ErrClassification
	}

	return Detection{Ext: ".jpg", Reason: "fallback", LowConfidence: true}, nil
}

func libraryMatch(buf []byte) (Detection, bool) {
	if len(buf) == 0 {
		return Detection{}, false
	}
	m := mimetype.Detect(buf)
	for _, t := range mediaTypes {
		if m.Is(t.mime) {
			return Detection{Ext: t.ext, Reason: "mime-" + m.String()}, true
		}
	}
	return Detection{}, false
}

// looseMatch accepts signatures that are enough for us but that mimetype rejects as incomplete
func looseMatch(buf []byte) (Detection, bool) {
	// ftyp box: 4-byte size (first byte zero for any sane header) then "ftyp" then the brand
	if len(buf) >= 12 && buf[0] == 0x00 && bytes.Equal(buf[4:8], []byte("ftyp")) {
		brand := string(buf[8:12])
		if quickTimeBrands[brand] {
			return Detection{Ext: ".mov", Reason: "ftyp-" + brand}, true
		}
		return Detection{Ext: ".mp4", Reason: "ftyp-" + brand}, true
	}
	switch {
	case bytes.HasPrefix(buf, []byte("AVI")):
		return Detection{Ext: ".avi", Reason: "avi-marker"}, true
	case riffSubtype(buf) == "AVI ":
		return Detection{Ext: ".avi", Reason: "riff-avi"}, true
	case bytes.HasPrefix(buf, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return Detection{Ext: ".webm", Reason: "ebml"}, true
	case bytes.HasPrefix(buf, []byte{0xFF, 0xD8}):
		return Detection{Ext: ".jpg", Reason: "jpeg-soi"}, true
	case riffSubtype(buf) == "WEBP":
		return Detection{Ext: ".webp", Reason: "riff-webp"}, true
	}
	return Detection{}, false
}

func riffSubtype(buf []byte) string {
	if len(buf) < 12 || !bytes.Equal(buf[0:4], []byte("RIFF")) {
		return ""
	}
	return string(buf[8:12])
}

// Small bodies are scanned whole
func containsPageMarker(buf []byte) bool {
	lower := bytes.ToLower(buf)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype"))
}

// LooksLikeHTML reports whether the first bytes of buf contain an HTML document marker
func LooksLikeHTML(buf []byte) bool {
	if len(buf) > pageScanWindow {
		buf = buf[:pageScanWindow]
	}
	lower := bytes.ToLower(buf)
	return bytes.Contains(lower, []byte("<html")) ||
		bytes.Contains(lower, []byte("<!doctype")) ||
		bytes.Contains(lower, []byte("<title"))
}
