package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrSourceUnavailable        = errors.New("data source unavailable") // Fatal at top level
	ErrNotAMediaLink            = errors.New("value is not a recognized media link")
	ErrTransport                = errors.New("transport error")          // Retryable HTTP/connection failure
	ErrTimeout                  = errors.New("request attempt timed out") // Always reported together with ErrTransport
	ErrSizeExceeded             = errors.New("response exceeded size ceiling")
	ErrInterstitialUnresolvable = errors.New("interstitial page could not be bypassed")
	ErrClassification           = errors.New("received interstitial/error page instead of media")
	ErrHopLimit                 = errors.New("redirect/interstitial hop limit exceeded")
	ErrRetryFailed              = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError          = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError          = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError           = errors.New("other HTTP error (non-2xx)")
	ErrParsing                  = errors.New("parsing error")    // Wraps specific parsing error (JSON, URL)
	ErrFilesystem               = errors.New("filesystem error") // Wraps os errors
	ErrDatabase                 = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation          = errors.New("failed to create HTTP request")
	ErrConfigValidation         = errors.New("configuration validation error")
)

// WrapErrorf prefixes err with a formatted context message. Returns nil if err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsRetryable reports whether an asset fetch error may succeed on another attempt.
// Only transport failures qualify; size, classification, interstitial and hop-limit
// failures are final for the asset.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrSizeExceeded),
		errors.Is(err, ErrInterstitialUnresolvable),
		errors.Is(err, ErrClassification),
		errors.Is(err, ErrHopLimit),
		errors.Is(err, ErrFilesystem),
		errors.Is(err, ErrRequestCreation),
		errors.Is(err, context.Canceled):
		return false
	}
	return errors.Is(err, ErrTransport)
}

// CategorizeError maps an error to a predefined category string for logging and the asset ledger.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return "Source_Unavailable"
	case errors.Is(err, ErrSizeExceeded):
		return "SizeExceeded"
	case errors.Is(err, ErrInterstitialUnresolvable):
		return "Interstitial_Unresolvable"
	case errors.Is(err, ErrClassification):
		return "Classification_NotMedia"
	case errors.Is(err, ErrHopLimit):
		return "Transport_HopLimit"
	case errors.Is(err, ErrTimeout):
		return "Transport_Timeout"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"401", "403", "404", "429"} {
			if strings.Contains(errMsg, " "+code+" ") || strings.HasSuffix(errMsg, " "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	}
	if errors.Is(err, ErrTransport) {
		return "Transport_Other"
	}

	return "Unknown"
}
