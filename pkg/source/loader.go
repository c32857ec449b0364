// Package source fetches a collection's record set and keeps a fallback copy of the last good one.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/fetch"
	"github.com/folioworks/asset-sync/pkg/models"
	"github.com/folioworks/asset-sync/pkg/utils"
)

// Record sets larger than this are rejected rather than read into memory
const maxSourceBytes = 64 << 20

// Result is a loaded record set
type Result struct {
	Records      []*models.Record
	UsedFallback bool
	FallbackPath string
}

// Loader fetches JSON record arrays over HTTP
type Loader struct {
	fetcher   *fetch.Fetcher
	stateDir  string
	userAgent string
	log       *logrus.Logger
}

// NewLoader creates a Loader that stores fallback copies under stateDir
func NewLoader(fetcher *fetch.Fetcher, stateDir, userAgent string, log *logrus.Logger) *Loader {
	return &Loader{
		fetcher:   fetcher,
		stateDir:  stateDir,
		userAgent: userAgent,
		log:       log,
	}
}

// FallbackPath returns where the last good copy of a collection's source is kept
func (l *Loader) FallbackPath(key string) string {
	return filepath.Join(l.stateDir, utils.SanitizeFilename(key)+"_source.json")
}

// Load fetches and decodes the collection's records. On success the raw body is saved as the
// fallback copy. When the source cannot be fetched or decoded the fallback copy is used instead;
// with no usable fallback the error wraps ErrSourceUnavailable.
func (l *Loader) Load(ctx context.Context, key string, col config.CollectionConfig) (*Result, error) {
	srcLog := l.log.WithFields(logrus.Fields{"collection": key, "source": col.SourceURL})

	body, err := l.fetch(ctx, col)
	if err == nil {
		var records []*models.Record
		records, err = Decode(body)
		if err == nil {
			if werr := utils.WriteFileAtomic(l.FallbackPath(key), body, 0644); werr != nil {
				srcLog.Warnf("Failed to save fallback copy: %v", werr)
			}
			srcLog.WithField("records", len(records)).Info("Source loaded")
			return &Result{Records: records}, nil
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrSourceUnavailable, ctx.Err())
	}

	fallback := l.FallbackPath(key)
	srcLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Source unavailable (%v), trying fallback copy %s", err, fallback)
	data, ferr := os.ReadFile(fallback)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %w (no fallback copy: %v)", utils.ErrSourceUnavailable, err, ferr)
	}
	records, derr := Decode(data)
	if derr != nil {
		return nil, fmt.Errorf("%w: %w (fallback copy unreadable: %v)", utils.ErrSourceUnavailable, err, derr)
	}
	srcLog.WithField("records", len(records)).Warn("Using fallback copy of source")
	return &Result{Records: records, UsedFallback: true, FallbackPath: fallback}, nil
}

func (l *Loader) fetch(ctx context.Context, col config.CollectionConfig) ([]byte, error) {
	if col.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, col.SourceTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, col.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := l.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read source body: %w", utils.ErrTransport, err)
	}
	if len(body) > maxSourceBytes {
		return nil, fmt.Errorf("%w: source body larger than %d bytes", utils.ErrSizeExceeded, maxSourceBytes)
	}
	return body, nil
}

// Decode parses a JSON array of objects. A top-level object holding the array under
// "data" or "records" is accepted too; some spreadsheet bridges wrap the rows that way.
func Decode(data []byte) ([]*models.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source body", utils.ErrParsing)
	}

	if data[0] == '{' {
		var wrapper struct {
			Data    json.RawMessage `json:"data"`
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: decode source object: %w", utils.ErrParsing, err)
		}
		switch {
		case len(wrapper.Data) > 0:
			data = wrapper.Data
		case len(wrapper.Records) > 0:
			data = wrapper.Records
		default:
			return nil, fmt.Errorf("%w: source object has no data or records array", utils.ErrParsing)
		}
	}

	var records []*models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode source records: %w", utils.ErrParsing, err)
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("%w: record %d is null", utils.ErrParsing, i)
		}
	}
	return records, nil
}
