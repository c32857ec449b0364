package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/drive"
	"github.com/folioworks/asset-sync/pkg/sniff"
	"github.com/folioworks/asset-sync/pkg/utils"
)

const (
	// Only this much of an interstitial page is handed to the token extractor
	maxInterstitialBytes = 1 << 20
	htmlInspectBytes     = 1000
)

// ExtSource says where the final extension of a download came from
type ExtSource string

const (
	ExtFromDisposition ExtSource = "content-disposition"
	ExtFromSniff       ExtSource = "sniff"
)

// Download describes a completed retrieval. The body is at Path, still carrying the
// temporary name; renaming it to Ext is the caller's job.
type Download struct {
	FileID       string
	Path         string
	Ext          string
	ExtSource    ExtSource
	DeclaredName string // Filename from Content-Disposition, if any
	Bytes        int64
	Hops         int  // Redirects plus interstitial retries in the successful attempt
	Attempts     int  // Logical attempts used, 1-based
	Interstitial bool // A virus-scan confirmation was needed
}

// ProgressFunc creates a progress bar for one body. total is -1 when the length is unknown.
type ProgressFunc func(total int64, description string) *progressbar.ProgressBar

// Engine downloads one asset at a time from the storage provider. Each logical attempt
// is a small state machine that follows redirects and at most one virus-scan interstitial.
type Engine struct {
	client    *http.Client
	cfg       *config.AppConfig
	extractor TokenExtractor
	limiter   *RateLimiter
	progress  ProgressFunc
	log       *logrus.Logger
}

// NewEngine creates an Engine. The client is copied with redirect following disabled.
func NewEngine(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *Engine {
	return &Engine{
		client:    AssetClient(client),
		cfg:       cfg,
		extractor: HTMLTokenExtractor{},
		limiter:   NewRateLimiter(cfg.RequestDelay, log),
		log:       log,
	}
}

// WithExtractor replaces the interstitial token extractor
func (e *Engine) WithExtractor(x TokenExtractor) *Engine {
	e.extractor = x
	return e
}

// WithProgress enables a progress bar per streamed body
func (e *Engine) WithProgress(p ProgressFunc) *Engine {
	e.progress = p
	return e
}

// Download retrieves fileID into tempPath, writing at most maxBytes (<= 0 uses the configured ceiling).
// Retryable failures are attempted up to MaxRetries times with a linear backoff of attempt x RetryBackoff.
// On any error no file is left at tempPath.
func (e *Engine) Download(ctx context.Context, fileID, tempPath string, maxBytes int64) (*Download, error) {
	if maxBytes <= 0 {
		maxBytes = e.cfg.MaxAssetBytes
	}
	startURL, err := drive.DownloadURL(e.cfg.Drive.DownloadURL, fileID)
	if err != nil {
		return nil, err
	}

	dlLog := e.log.WithField("file_id", fileID)
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * e.cfg.RetryBackoff
			dlLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": e.cfg.MaxRetries, "delay": delay}).Warnf("Retrying download after: %v", lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry delay after error: %w", lastErr)
			}
		}

		a := &attemptState{
			parent:   ctx,
			fileID:   fileID,
			url:      startURL,
			tempPath: tempPath,
			maxBytes: maxBytes,
			log:      dlLog.WithField("attempt", attempt),
		}
		d, err := e.runAttempt(ctx, a)
		if err == nil {
			d.Attempts = attempt
			return d, nil
		}
		_ = os.Remove(tempPath)
		lastErr = err

		if !utils.IsRetryable(err) {
			a.log.WithField("error_type", utils.CategorizeError(err)).Debugf("Not retrying: %v", err)
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

type state int

const (
	stateRequesting state = iota
	stateRedirecting
	stateStreaming
	stateFinalizing
	stateInterstitialRetry
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateRequesting:
		return "requesting"
	case stateRedirecting:
		return "redirecting"
	case stateStreaming:
		return "streaming"
	case stateFinalizing:
		return "finalizing"
	case stateInterstitialRetry:
		return "interstitial_retry"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// attemptState is the data carried through one logical attempt
type attemptState struct {
	parent           context.Context
	fileID           string
	url              string
	tempPath         string
	maxBytes         int64
	hops             int
	interstitialUsed bool
	resp             *http.Response
	hopCtx           context.Context
	hopCancel        context.CancelFunc
	written          int64
	head             *headBuffer
	declared         string
	tokens           drive.Tokens
	result           *Download
	err              error
	log              *logrus.Entry
}

func (a *attemptState) fail(err error) state {
	a.err = err
	return stateFailed
}

// runAttempt drives one logical attempt. Every HTTP request in it (redirect hops, the
// interstitial page, the confirmed download) gets its own AttemptTimeout covering headers and body.
func (e *Engine) runAttempt(ctx context.Context, a *attemptState) (*Download, error) {
	defer func() {
		if a.resp != nil {
			a.resp.Body.Close()
		}
		a.endHop()
	}()

	st := stateRequesting
	for {
		a.log.WithFields(logrus.Fields{"state": st, "hop": a.hops}).Trace("Download state")
		switch st {
		case stateRequesting:
			st = e.request(ctx, a)
		case stateRedirecting:
			st = e.redirect(a)
		case stateStreaming:
			st = e.stream(a)
		case stateFinalizing:
			st = e.finalize(a)
		case stateInterstitialRetry:
			st = e.confirm(a)
		case stateDone:
			return a.result, nil
		case stateFailed:
			return nil, a.err
		}
	}
}

func (e *Engine) request(ctx context.Context, a *attemptState) state {
	target, err := url.Parse(a.url)
	if err != nil {
		return a.fail(fmt.Errorf("%w: %v", utils.ErrRequestCreation, err))
	}
	e.limiter.Wait(ctx, target.Host)

	hopCtx := a.beginHop(ctx, e.cfg.AttemptTimeout)
	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, a.url, nil)
	if err != nil {
		return a.fail(fmt.Errorf("%w: %v", utils.ErrRequestCreation, err))
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	e.limiter.Done(target.Host)
	if err != nil {
		return a.fail(a.transportErr(hopCtx, err))
	}
	a.resp = resp

	code := resp.StatusCode
	switch {
	case code >= 300 && code < 400 && resp.Header.Get("Location") != "":
		return stateRedirecting
	case code >= 200 && code < 300:
		return stateStreaming
	case code >= 500:
		return a.fail(fmt.Errorf("%w: %w: status %d", utils.ErrTransport, utils.ErrServerHTTPError, code))
	case code >= 400:
		return a.fail(fmt.Errorf("%w: %w: status %d", utils.ErrTransport, utils.ErrClientHTTPError, code))
	default:
		return a.fail(fmt.Errorf("%w: %w: status %d", utils.ErrTransport, utils.ErrOtherHTTPError, code))
	}
}

func (e *Engine) redirect(a *attemptState) state {
	loc := a.resp.Header.Get("Location")
	base := a.resp.Request.URL
	drainAndClose(a.resp)
	a.resp = nil

	if err := a.hop(e.cfg.MaxHops); err != nil {
		return a.fail(err)
	}
	next, err := base.Parse(loc)
	if err != nil {
		return a.fail(fmt.Errorf("%w: bad redirect location '%s': %v", utils.ErrTransport, loc, err))
	}
	a.log.WithFields(logrus.Fields{"hop": a.hops, "location": next.Redacted()}).Debug("Following redirect")
	a.url = next.String()
	return stateRequesting
}

func (e *Engine) stream(a *attemptState) state {
	resp := a.resp
	if resp.ContentLength > a.maxBytes {
		return a.fail(fmt.Errorf("%w: declared length %s exceeds ceiling %s",
			utils.ErrSizeExceeded, humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(a.maxBytes))))
	}

	f, err := os.Create(a.tempPath)
	if err != nil {
		return a.fail(fmt.Errorf("%w: create temp file: %w", utils.ErrFilesystem, err))
	}

	a.head = &headBuffer{limit: sniff.HeadSize}
	var w io.Writer = io.MultiWriter(f, a.head)
	var bar *progressbar.ProgressBar
	if e.progress != nil {
		bar = e.progress(resp.ContentLength, a.fileID)
		w = io.MultiWriter(w, bar)
	}

	// One byte past the ceiling is enough to know it was exceeded
	n, copyErr := io.Copy(w, io.LimitReader(resp.Body, a.maxBytes+1))
	closeErr := f.Close()
	if bar != nil {
		_ = bar.Finish()
	}
	a.written = n
	drainAndClose(resp)
	a.resp = nil

	switch {
	case n > a.maxBytes:
		os.Remove(a.tempPath)
		return a.fail(fmt.Errorf("%w: body exceeds ceiling %s", utils.ErrSizeExceeded, humanize.IBytes(uint64(a.maxBytes))))
	case copyErr != nil:
		os.Remove(a.tempPath)
		return a.fail(a.transportErr(a.hopCtx, copyErr))
	case closeErr != nil:
		os.Remove(a.tempPath)
		return a.fail(fmt.Errorf("%w: close temp file: %w", utils.ErrFilesystem, closeErr))
	}

	a.log.WithField("bytes", humanize.Bytes(uint64(n))).Debug("Body streamed")
	a.declared = FilenameFromDisposition(resp.Header.Get("Content-Disposition"))
	return stateFinalizing
}

func (e *Engine) finalize(a *attemptState) state {
	head := a.head.Bytes()

	if a.written == 0 {
		return a.fail(fmt.Errorf("%w: empty body", utils.ErrClassification))
	}

	inspect := head
	if len(inspect) > htmlInspectBytes {
		inspect = inspect[:htmlInspectBytes]
	}
	if sniff.LooksLikeHTML(inspect) {
		os.Remove(a.tempPath)
		page := head
		if len(page) > maxInterstitialBytes {
			page = page[:maxInterstitialBytes]
		}
		if !IsVirusScanPage(page) {
			return a.fail(utils.ErrClassification)
		}
		if a.interstitialUsed {
			return a.fail(fmt.Errorf("%w: confirmation page served again after confirming", utils.ErrInterstitialUnresolvable))
		}
		tokens, ok := e.extractor.TryExtract(page)
		if !ok {
			return a.fail(fmt.Errorf("%w: confirm/uuid tokens not found", utils.ErrInterstitialUnresolvable))
		}
		a.tokens = tokens
		return stateInterstitialRetry
	}

	d := &Download{
		FileID:       a.fileID,
		Path:         a.tempPath,
		DeclaredName: a.declared,
		Bytes:        a.written,
		Hops:         a.hops,
		Interstitial: a.interstitialUsed,
	}
	if ext := ExtensionFromFilename(a.declared); ext != "" {
		d.Ext, d.ExtSource = ext, ExtFromDisposition
	} else {
		det, err := sniff.Detect(head, a.written)
		if err != nil {
			os.Remove(a.tempPath)
			return a.fail(err)
		}
		if det.LowConfidence {
			a.log.WithField("bytes", a.written).Warnf("Unrecognised content, guessing %s", det.Ext)
		}
		d.Ext, d.ExtSource = det.Ext, ExtFromSniff
	}
	a.result = d
	return stateDone
}

func (e *Engine) confirm(a *attemptState) state {
	a.interstitialUsed = true
	if err := a.hop(e.cfg.MaxHops); err != nil {
		return a.fail(err)
	}
	next, err := drive.ConfirmURL(e.cfg.Drive.ConfirmURL, a.fileID, a.tokens)
	if err != nil {
		return a.fail(err)
	}
	a.log.WithField("hop", a.hops).Info("Virus-scan interstitial received, retrying with confirmation tokens")
	a.url = next
	return stateRequesting
}

// beginHop releases the previous request's deadline and starts a fresh one under ctx
func (a *attemptState) beginHop(ctx context.Context, timeout time.Duration) context.Context {
	a.endHop()
	if timeout > 0 {
		a.hopCtx, a.hopCancel = context.WithTimeout(ctx, timeout)
	} else {
		a.hopCtx, a.hopCancel = context.WithCancel(ctx)
	}
	return a.hopCtx
}

func (a *attemptState) endHop() {
	if a.hopCancel != nil {
		a.hopCancel()
		a.hopCancel = nil
	}
}

func (a *attemptState) hop(maxHops int) error {
	a.hops++
	if a.hops > maxHops {
		return fmt.Errorf("%w: %d hops", utils.ErrHopLimit, a.hops)
	}
	return nil
}

// transportErr classifies a failed request or body read. Expiry of the request's own deadline
// is a retryable timeout; cancellation of the caller's context is not.
func (a *attemptState) transportErr(attemptCtx context.Context, err error) error {
	if a.parent.Err() != nil {
		return fmt.Errorf("download aborted: %w", a.parent.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", utils.ErrTransport, utils.ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %w: %v", utils.ErrTransport, utils.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", utils.ErrTransport, err)
}

// headBuffer keeps the first limit bytes written to it and discards the rest
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

func (h *headBuffer) Bytes() []byte {
	return h.buf
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
